// Package speech implements the spoken report pipeline. A report text is framed and sent to
// the speech synthesis service, the returned base64 PCM payload is decoded into a float
// buffer and playback starts at once on the configured output device.
//
// A Pipeline owns at most one live playback. Speaking again stops the previous playback
// before the new one starts, so device connections never pile up.
package speech

// Package playback drives decoded audio buffers into output devices.
// Each playback owns one device connection (sink) and one pump goroutine that feeds the
// buffer in fixed periods, optionally paced in real time. The returned Handle stops the
// playback, releases the sink exactly once and signals completion.
package playback

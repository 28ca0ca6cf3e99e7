// Package audio handles the speech payload format: base64 transport decoding, interleaved
// PCM-16 little-endian sample unpacking into normalised float channel buffers, and WAV
// encoding of decoded buffers for file output and download.
package audio

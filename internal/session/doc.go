// Package session tracks dashboard sessions. Each session owns its latest prediction result
// (held in the result store) and one speech pipeline, so at most one spoken report plays per
// session. Sessions idle past the timeout are removed by a background routine that stops
// their playback and deletes their result.
package session

// Package metrics defines the Prometheus instrumentation for analysis, speech synthesis,
// playback, sessions and the HTTP API.
package metrics

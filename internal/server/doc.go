// Package server implements the HTTP API used by the risk dashboard together with the
// health, configuration, statistics and metrics endpoints. Dashboard routes are scoped
// to a session carried in the X-Session-ID header.
package server

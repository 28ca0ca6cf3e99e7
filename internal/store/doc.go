// Package store keeps the latest prediction result of each dashboard session. Results expire
// with the session; an in-memory back end serves a single instance and a Redis back end lets
// several instances share sessions.
package store

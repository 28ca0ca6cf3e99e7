// Package genai implements the HTTP client for the hosted generative model API.
// It issues generateContent requests for structured JSON output and for speech synthesis,
// bounds concurrency with a semaphore and a token-bucket limiter, and keeps request statistics.
package genai

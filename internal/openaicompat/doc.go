// Package openaicompat adapts OpenAI-compatible chat and speech endpoints to the same
// structured-output and speech-synthesis contracts served by the genai client.
package openaicompat

// Package llm talks to hosted language models to find sensitive strings in text.
// It supports OpenAI-compatible and Anthropic endpoints and exposes them as a
// detection service for the text model detector.
package llm

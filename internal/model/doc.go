// Package model abstracts streaming LLM completions behind the Client
// interface. GeminiClient speaks to the Gemini API; ScriptedClient replays
// canned responses for tests and offline demos.
package model

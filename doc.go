// Package chatwithme is the root of a multi-model chat backend. Authenticated
// users hold conversations whose messages are routed to one of a small set of
// language models, with a canned fallback whenever a model is unavailable.
//
// The module is organized as subpackages:
//
//	llm            model catalog, provider interface, router and fallback replies
//	llm/openai     Groq adapter (OpenAI-compatible API)
//	llm/gemini     Google Gemini adapter
//	llm/retrieval  retrieval-augmented generation backend adapter
//	memory         conversation store interface and its backends
//	auth           session resolution from signed tokens
//	chat           the send, history, rename and delete operations
//	server/http    JSON API over chi
//	config         TOML and environment configuration
//	observability  metrics, tracing and request ids
//
// The binary lives in cmd/chatwithme.
package chatwithme

// Package embeddings provides embedding generation for semantic recall.
//
// Three providers are available:
//
//   - fastembed: local ONNX inference via FastEmbed, no network required
//     after the first model download (requires CGO).
//   - openai: any OpenAI-compatible /embeddings endpoint, including
//     self-hosted TEI and Ollama servers.
//   - static: deterministic hash-based vectors for tests and offline
//     development.
//
// NewProvider selects an implementation from configuration. All
// providers satisfy vectorstore.Embedder plus a Close method.
package embeddings

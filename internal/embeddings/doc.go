// Package embeddings turns product text into fixed-dimension vectors.
//
// A Provider talks to one embedding backend: a TEI server over HTTP, an
// OpenAI-compatible API through langchaingo, or a local ONNX model through
// fastembed (cgo builds only). Client wraps a Provider with input
// truncation, batch splitting, rate limiting, retries and a dimension check,
// and is what the sync engine calls.
package embeddings

package embed

// FastEmbedOptions configures the local ONNX embedder.
type FastEmbedOptions struct {
	Model     string // e.g. "fast-bge-small-en-v1.5" (default)
	CacheDir  string // e.g. ".fastembed"
	MaxLength int    // token limit, 0 = default
	BatchSize int
}

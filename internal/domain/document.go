package domain

// Document is a normalized markdown document handed to the ingestion pipeline.
// Immutable once submitted: the pipeline never mutates Text or Metadata.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Chunk is one ordered piece of a document produced by the chunker.
// Start and End are byte offsets into the source document text, so
// End-Start == len(Text) always holds.
type Chunk struct {
	DocumentID string
	Seq        int
	Text       string
	HeaderPath []string
	Start      int
	End        int
}

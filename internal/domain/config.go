package domain

// VectorConfig holds internal vectorization settings, not exposed to clients.
type VectorConfig struct {
	Model               string
	Dimensions          int
	DistanceMetric      string
	Algorithm           string
	DocumentInstruction string
	QueryInstruction    string
}

// DefaultVectorConfig returns the default configuration tuned for
// 768-dimensional asymmetric retrieval embeddings.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:               "text-embedding-3-small",
		Dimensions:          768,
		DistanceMetric:      "cosine",
		Algorithm:           "hnsw",
		DocumentInstruction: "Represent this document for semantic search: ",
		QueryInstruction:    "Represent this query for retrieving relevant documents: ",
	}
}

package embedding

import "github.com/custodia-labs/sercha-local/internal/core/domain"

// InitRequest is the payload of an init message to a worker.
type InitRequest struct {
	Config domain.ResolvedEmbedderConfig `json:"config"`
}

// BatchRequest is the payload of an embed_batch message.
type BatchRequest struct {
	Texts []string `json:"texts"`
}

// BatchResponse is the payload of an embeddings reply.
type BatchResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// QueryRequest is the payload of an embed_query message.
type QueryRequest struct {
	Text string `json:"text"`
}

// QueryResponse is the payload of an embedding reply.
type QueryResponse struct {
	Vector []float32 `json:"vector"`
}

// Package embedding turns text into vectors. It resolves the compute
// device, runs a backend either in this process or in worker child
// processes, batches and sanitises input, falls back from GPU to CPU
// once when the GPU fails, and caches query embeddings.
package embedding

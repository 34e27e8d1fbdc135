// internal/domain/engine.go
package domain

import "context"

// InferenceEngine is the boundary to the externally supplied model runtime.
// It is constructed once at process start; construction failure is fatal.
//
// Implementations are NOT assumed safe for concurrent calls — the dispatch
// pool size must not exceed the engine's real concurrency capacity (the
// default pool size of 1 assumes a single non-reentrant model).
type InferenceEngine interface {
	// ChatWithImage answers a free-text question about a decoded image.
	ChatWithImage(ctx context.Context, text string, image []byte) (string, error)
}

package orchestrationports

import "context"

// RateLimiter bounds calls to the remote planning service.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

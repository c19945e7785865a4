package rate

import (
	"context"
	"time"
)

// Limiter allows at most a fixed number of calls per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// Key scopes a limiter key to one owner operation.
func Key(operation, accountID string) string {
	return operation + ":" + accountID
}

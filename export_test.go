package treasury

import (
	"context"
	"time"
)

// SetSleepFn swaps the sleepFn test seam so external test packages can
// observe the refund backoff schedule.
func (c *Core) SetSleepFn(fn func(ctx context.Context, d time.Duration) bool) {
	c.sleepFn = fn
}

package clash

import "context"

// Limiter bounds the number of in-flight probe requests. It is the
// buffered-channel counting semaphore; Release never blocks as long as
// every Release is paired with a successful Acquire.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	<-l.slots
}

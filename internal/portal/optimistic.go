package portal

import "context"

// Optimistic applies update to the cached value under key before running mutate. If
// mutate fails the previous value is restored and a failure notice is sent. The key is
// invalidated either way so the next read refetches.
func (p *Portal) Optimistic(ctx context.Context, key string, update func(old any) any, mutate func(ctx context.Context) error) error {
	prev, _, had := p.cache.Peek(key)
	p.cache.Set(key, update(prev))
	defer p.cache.Invalidate(key)

	if err := mutate(ctx); err != nil {
		if had {
			p.cache.Set(key, prev)
		} else {
			p.cache.Remove(key)
		}
		return p.fail(ctx, err, "Operation failed")
	}
	return nil
}

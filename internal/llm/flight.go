package llm

import (
	"context"
	"sync"
)

// flight is one in-progress generation that concurrent misses on the same
// key can wait on instead of duplicating upstream work.
type flight struct {
	done chan struct{}
	resp *Response
	err  error
}

// flightGroup collapses concurrent non-streaming misses for the same cache
// key into a single upstream call. Streaming requests never join a flight:
// a joiner would have to buffer the leader's chunks, which defeats the point
// of streaming, so duplicates there are tolerated instead.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do runs fn once per key across concurrent callers. The first caller
// executes fn; later callers block until it finishes and share its result.
// shared reports whether the result came from another caller's flight.
// A waiting caller's context cancellation releases only that caller; the
// leader keeps running for the others.
func (g *flightGroup) do(ctx context.Context, key string, fn func() (*Response, error)) (resp *Response, shared bool, err error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.resp, true, f.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	f.resp, f.err = fn()

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()
	close(f.done)

	return f.resp, false, f.err
}

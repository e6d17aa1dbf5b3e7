package engine

import (
	"context"
	"sync"

	"github.com/tabletopmap/pucktracker/internal/marker"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// MarkerFunc processes one marker for one frame.
type MarkerFunc func(ctx context.Context, f core.Frame, m *marker.Marker) Result

type job struct {
	ctx     context.Context
	frame   core.Frame
	markers []*marker.Marker
	out     chan<- Result
}

// Pool shards markers over a fixed set of goroutines. Marker id % shards picks
// the owner, so a marker is only ever touched by one goroutine per frame.
type Pool struct {
	fn     MarkerFunc
	shards []chan job
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool starts n shard goroutines.
func NewPool(n int, fn MarkerFunc) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{fn: fn, shards: make([]chan job, n)}
	for i := range p.shards {
		ch := make(chan job)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.run(ch)
	}
	return p
}

func (p *Pool) run(jobs <-chan job) {
	defer p.wg.Done()
	for j := range jobs {
		var res Result
		for _, m := range j.markers {
			res.merge(p.fn(j.ctx, j.frame, m))
		}
		j.out <- res
	}
}

// Shard returns the shard owning id.
func (p *Pool) Shard(id core.MarkerID) int {
	n := len(p.shards)
	s := int(id) % n
	if s < 0 {
		s += n
	}
	return s
}

// Run processes one frame on every shard and waits for all of them. Results
// keep registration order within a shard; shards are concatenated in index order.
func (p *Pool) Run(ctx context.Context, f core.Frame, markers []*marker.Marker) Result {
	parts := make([][]*marker.Marker, len(p.shards))
	for _, m := range markers {
		s := p.Shard(m.ID())
		parts[s] = append(parts[s], m)
	}

	outs := make([]chan Result, len(p.shards))
	for i, ms := range parts {
		if len(ms) == 0 {
			continue
		}
		out := make(chan Result, 1)
		outs[i] = out
		p.shards[i] <- job{ctx: ctx, frame: f, markers: ms, out: out}
	}

	var res Result
	for _, out := range outs {
		if out != nil {
			res.merge(<-out)
		}
	}
	return res
}

// Close stops the shard goroutines after in-flight frames finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		for _, ch := range p.shards {
			close(ch)
		}
		p.wg.Wait()
	})
}

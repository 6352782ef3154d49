package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────
// inflight: one sync per collection at a time
// ─────────────────────────────────────────────────────────────

// ActiveSync is a collection sync in progress in this process.
type ActiveSync struct {
	Collection string    `json:"collection"`
	Since      time.Time `json:"since"`
}

// inflight tracks which collections are syncing and since when.
// The zero value is ready to use.
type inflight struct {
	mu      sync.Mutex
	started map[string]time.Time
	wg      sync.WaitGroup
}

// begin marks collection as syncing from now on. When a sync of the same
// collection is already in progress it returns that sync's start and false.
func (f *inflight) begin(collection string, now time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started == nil {
		f.started = make(map[string]time.Time)
	}
	if since, ok := f.started[collection]; ok {
		return since, false
	}
	f.started[collection] = now
	f.wg.Add(1)
	return now, true
}

// end releases collection. Must follow a successful begin.
func (f *inflight) end(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, collection)
	f.wg.Done()
}

// active lists the syncs in progress, oldest first.
func (f *inflight) active() []ActiveSync {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ActiveSync, 0, len(f.started))
	for c, since := range f.started {
		out = append(out, ActiveSync{Collection: c, Since: since})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].Collection < out[j].Collection
	})
	return out
}

// wait blocks until every sync in progress ends or ctx is done.
func (f *inflight) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

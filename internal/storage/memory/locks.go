package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// accountLocks hands out one exclusive lock per account. Locks are channels
// so that waiting can be abandoned when the context ends.
type accountLocks struct {
	mu    sync.Mutex
	chans map[uuid.UUID]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{chans: make(map[uuid.UUID]chan struct{})}
}

func (l *accountLocks) chanFor(id uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.chans[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.chans[id] = ch
	}
	return ch
}

// acquire locks ids in ascending order so two callers never wait on each
// other in opposite directions. It returns the locked ids.
func (l *accountLocks) acquire(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	sorted := dedupe(ids)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	for i, id := range sorted {
		select {
		case l.chanFor(id) <- struct{}{}:
		case <-ctx.Done():
			l.release(sorted[:i])
			return nil, ctx.Err()
		}
	}
	return sorted, nil
}

func (l *accountLocks) release(ids []uuid.UUID) {
	for i := len(ids) - 1; i >= 0; i-- {
		<-l.chanFor(ids[i])
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package memory

import (
	"context"
	"sync"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/domain/faults"
)

// FaultLog is an in-process faults.Recorder. Entries are capped per session
// so a busy retry loop cannot grow memory without bound.
type FaultLog struct {
	mu        sync.Mutex
	seq       int64
	bySession map[string][]*faults.Fault

	clock application.Clock
	cap   int
}

func NewFaultLog(clock application.Clock, perSessionCap int) *FaultLog {
	if perSessionCap <= 0 {
		perSessionCap = 100
	}
	return &FaultLog{
		bySession: make(map[string][]*faults.Fault),
		clock:     clock,
		cap:       perSessionCap,
	}
}

func (l *FaultLog) Record(_ context.Context, f *faults.Fault) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	cp := *f
	cp.ID = l.seq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = l.clock.Now()
	}
	list := append(l.bySession[f.SessionID], &cp)
	if len(list) > l.cap {
		list = list[len(list)-l.cap:]
	}
	l.bySession[f.SessionID] = list
	return nil
}

// BySession returns the newest faults first.
func (l *FaultLog) BySession(_ context.Context, sessionID string, limit int) ([]*faults.Fault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	list := l.bySession[sessionID]
	out := make([]*faults.Fault, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

package journal

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/scribehook/internal/pipeline"
)

// Memory is a bounded in-process journal. When full, the oldest report is
// dropped.
type Memory struct {
	mu       sync.Mutex
	capacity int
	reports  []pipeline.Report // oldest first
}

// NewMemory returns a ring holding up to capacity reports (default 100).
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 100
	}
	return &Memory{capacity: capacity}
}

// Append implements [Journal].
func (m *Memory) Append(_ context.Context, r pipeline.Report) error {
	r.Errors = slices.Clone(r.Errors)
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.IndexFunc(m.reports, func(x pipeline.Report) bool { return x.ID == r.ID }); i >= 0 {
		m.reports[i] = r
		return nil
	}
	if len(m.reports) == m.capacity {
		m.reports = slices.Delete(m.reports, 0, 1)
	}
	m.reports = append(m.reports, r)
	return nil
}

// Recent implements [Journal].
func (m *Memory) Recent(_ context.Context, limit int) ([]pipeline.Report, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Report, 0, min(limit, len(m.reports)))
	for i := len(m.reports) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.reports[i]
		r.Errors = slices.Clone(r.Errors)
		out = append(out, r)
	}
	return out, nil
}

// Ping implements [Journal]. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Journal].
func (m *Memory) Close() error { return nil }

var _ Journal = (*Memory)(nil)

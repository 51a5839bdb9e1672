package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// GroupSummary is the outcome of probing one group.
type GroupSummary struct {
	Name       string  `json:"name"`
	Total      int     `json:"total"`
	Valid      int     `json:"valid"`
	Invalid    int     `json:"invalid"`
	AvgDelayMs float64 `json:"avg_delay_ms"`
}

// Run is a point-in-time view of the current run.
type Run struct {
	StartedAt    time.Time      `json:"started_at"`
	Phase        string         `json:"phase"` // "connecting", "probing", "updating", "done"
	CurrentGroup string         `json:"current_group,omitempty"`
	Done         int            `json:"done"`
	Total        int            `json:"total"`
	Groups       []GroupSummary `json:"groups"`
}

// Tracker publishes run progress for the status server. Readers get a
// consistent snapshot via an atomic swap; writers serialize on a
// mutex and never mutate a published value.
type Tracker struct {
	mu      sync.Mutex
	current atomic.Value // stores *Run
}

func NewTracker() *Tracker {
	t := &Tracker{}
	t.current.Store(&Run{StartedAt: time.Now(), Phase: "connecting"})
	return t
}

// Get returns the current snapshot.
func (t *Tracker) Get() *Run {
	return t.current.Load().(*Run)
}

// SetPhase records a phase transition.
func (t *Tracker) SetPhase(phase string) {
	t.update(func(r *Run) {
		r.Phase = phase
		r.CurrentGroup = ""
	})
}

// BeginGroup marks the start of one group's batch.
func (t *Tracker) BeginGroup(name string, total int) {
	t.update(func(r *Run) {
		r.Phase = "probing"
		r.CurrentGroup = name
		r.Done = 0
		r.Total = total
	})
}

// Progress records probe completion counts within the current group.
func (t *Tracker) Progress(done, total int) {
	t.update(func(r *Run) {
		r.Done = done
		r.Total = total
	})
}

// FinishGroup appends a completed group's summary.
func (t *Tracker) FinishGroup(summary GroupSummary) {
	t.update(func(r *Run) {
		r.Groups = append(r.Groups, summary)
		r.CurrentGroup = ""
	})
}

func (t *Tracker) update(fn func(*Run)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.Get()
	next := *old
	next.Groups = make([]GroupSummary, len(old.Groups))
	copy(next.Groups, old.Groups)

	fn(&next)
	t.current.Store(&next)
}

package clash

import "time"

// Result is the outcome of one delay probe. Alive is true iff the
// daemon returned a usable delay figure; failed probes carry a zero
// DelayMs and must never be treated as measured.
type Result struct {
	Name       string    `json:"name"`
	DelayMs    int64     `json:"delay_ms"`
	Alive      bool      `json:"alive"`
	MeasuredAt time.Time `json:"measured_at"`
}

func okResult(name string, delayMs int64) Result {
	return Result{Name: name, DelayMs: delayMs, Alive: true, MeasuredAt: time.Now()}
}

func failResult(name string) Result {
	return Result{Name: name, MeasuredAt: time.Now()}
}

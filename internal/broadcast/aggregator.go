package broadcast

// Counts are the running totals of a run. Success+Failed always equals Total;
// Blocked and Retried are subsets of Failed.
type Counts struct {
	Total   int            `json:"total_count"`
	Success int            `json:"success_count"`
	Failed  int            `json:"failed_count"`
	Blocked int            `json:"blocked_count"`
	Retried int            `json:"retry_count"`
	Errors  map[string]int `json:"errors"`
}

func newCounts() Counts { return Counts{Errors: map[string]int{}} }

// Fold adds one outcome. It is not safe for concurrent use; the scheduler
// folds a batch sequentially after all of its sends have returned.
func (c *Counts) Fold(o Outcome) {
	if c.Errors == nil {
		c.Errors = map[string]int{}
	}
	c.Total++
	if o.Kind == Delivered {
		c.Success++
		return
	}
	c.Failed++
	switch o.Kind {
	case Blocked:
		c.Blocked++
	case RateLimited:
		c.Retried++
	}
	c.Errors[o.errorKey()]++
}

// SuccessRate is a percentage in [0,100]; 0 when nothing was attempted.
func (c Counts) SuccessRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return round2(float64(c.Success) / float64(c.Total) * 100)
}

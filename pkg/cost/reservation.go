package cost

import "sync"

// Reservation holds an estimated cost against the ledger between the
// pre-check and the commit of a call.
type Reservation struct {
	t            *Tracker
	model        string
	inputTokens  int
	outputTokens int
	estimate     float64

	once sync.Once
}

// Reserve checks that total + outstanding reservations + the estimate stays
// within the ceiling and, if so, holds the estimate. No I/O happens on refusal.
func (t *Tracker) Reserve(model string, inputTokens, outputTokens int) (*Reservation, error) {
	estimate := t.EstimateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	projected := t.total + t.reserved + estimate
	if projected > t.maxCost {
		current := t.total
		t.mu.Unlock()
		t.logger.Error("cost_would_exceed_limit",
			"job_id", t.jobID,
			"model", model,
			"current_cost", current,
			"estimated_cost", estimate,
			"max_cost", t.maxCost,
		)
		return nil, &ExceededError{JobID: t.jobID, Total: projected, Max: t.maxCost, Cost: estimate, PreCheck: true}
	}
	t.reserved += estimate
	t.mu.Unlock()

	return &Reservation{
		t:            t,
		model:        model,
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
		estimate:     estimate,
	}, nil
}

// Estimate is the cost held by the reservation.
func (r *Reservation) Estimate() float64 { return r.estimate }

// Commit records the call and settles the hold in the same step.
// Only the first of Commit or Release has an effect.
func (r *Reservation) Commit() (c float64, err error) {
	r.once.Do(func() {
		c = r.t.EstimateCost(r.model, r.inputTokens, r.outputTokens)
		err = r.t.commit(r.model, r.inputTokens, r.outputTokens, c, r.estimate)
	})
	return c, err
}

// Release drops the hold without recording usage.
func (r *Reservation) Release() {
	r.once.Do(r.drop)
}

func (r *Reservation) drop() {
	r.t.mu.Lock()
	r.t.reserved -= r.estimate
	if r.t.reserved < 1e-12 {
		r.t.reserved = 0
	}
	r.t.mu.Unlock()
}

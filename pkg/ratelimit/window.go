package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	at     time.Time
	amount int
}

// window is one model's trailing request and token history.
type window struct {
	mu       sync.Mutex
	requests []entry
	tokens   []entry
	tokenSum int

	// throttles limit-reached warnings for this model
	warn rate.Sometimes
}

func newWindow() *window {
	return &window{warn: rate.Sometimes{Interval: 5 * time.Second}}
}

// prune drops entries that are span or more old. Caller holds mu.
func (w *window) prune(now time.Time, span time.Duration) {
	i := 0
	for i < len(w.requests) && now.Sub(w.requests[i].at) >= span {
		i++
	}
	w.requests = w.requests[i:]

	j := 0
	for j < len(w.tokens) && now.Sub(w.tokens[j].at) >= span {
		w.tokenSum -= w.tokens[j].amount
		j++
	}
	w.tokens = w.tokens[j:]
}

// delay returns how long until a request of tokens fits under l. Caller holds mu
// and has pruned. tokens must not exceed l.TPM.
func (w *window) delay(now time.Time, span time.Duration, l Limits, tokens int) (rpmWait, tpmWait time.Duration) {
	if n := len(w.requests); n >= l.RPM {
		rpmWait = w.requests[n-l.RPM].at.Add(span).Sub(now)
	}
	if w.tokenSum+tokens > l.TPM {
		remaining := w.tokenSum
		for _, e := range w.tokens {
			remaining -= e.amount
			if remaining+tokens <= l.TPM {
				tpmWait = e.at.Add(span).Sub(now)
				break
			}
		}
	}
	return rpmWait, tpmWait
}

func (w *window) admit(now time.Time, tokens int) {
	w.requests = append(w.requests, entry{at: now, amount: 1})
	w.tokens = append(w.tokens, entry{at: now, amount: tokens})
	w.tokenSum += tokens
}

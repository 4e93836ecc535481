// Package policy holds the process-wide model allow/deny lists.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrModelNotAllowed is returned when a model is denied or missing from an active allow list.
var ErrModelNotAllowed = errors.New("model not allowed")

// NotAllowedError reports which model was rejected and why.
type NotAllowedError struct {
	Model  string
	Denied bool // true when the deny list matched, false when the allow list did not
}

func (e *NotAllowedError) Error() string {
	if e.Denied {
		return fmt.Sprintf("model %q is not allowed: on deny list", e.Model)
	}
	return fmt.Sprintf("model %q is not allowed: not on allow list", e.Model)
}

// Is matches ErrModelNotAllowed.
func (e *NotAllowedError) Is(target error) bool {
	return target == ErrModelNotAllowed
}

// ModelPolicy is read-only after construction and safe for concurrent use.
// A nil allow set means every model not denied is allowed. Deny always wins.
type ModelPolicy struct {
	allowed map[string]struct{}
	denied  map[string]struct{}
}

// New builds a policy. An empty allowed slice disables the allow list.
func New(allowed, denied []string) *ModelPolicy {
	p := &ModelPolicy{denied: toSet(denied)}
	if set := toSet(allowed); len(set) > 0 {
		p.allowed = set
	}
	return p
}

// AllowAll returns a policy without restrictions.
func AllowAll() *ModelPolicy {
	return New(nil, nil)
}

// Allowed reports whether model may be used.
func (p *ModelPolicy) Allowed(model string) bool {
	return p.Check(model) == nil
}

// Check returns a *NotAllowedError when model may not be used.
func (p *ModelPolicy) Check(model string) error {
	if p == nil {
		return nil
	}
	if _, ok := p.denied[model]; ok {
		return &NotAllowedError{Model: model, Denied: true}
	}
	if p.allowed != nil {
		if _, ok := p.allowed[model]; !ok {
			return &NotAllowedError{Model: model}
		}
	}
	return nil
}

// AllowedModels returns the sorted allow list, or nil when unrestricted.
func (p *ModelPolicy) AllowedModels() []string {
	return sortedKeys(p.allowed)
}

// DeniedModels returns the sorted deny list.
func (p *ModelPolicy) DeniedModels() []string {
	return sortedKeys(p.denied)
}

// ParseList splits a comma-separated model list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if m := strings.TrimSpace(part); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func toSet(models []string) map[string]struct{} {
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			set[m] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

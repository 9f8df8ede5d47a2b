package filer

import (
	"fmt"

	"github.com/infodancer/mailfiler/rules"
)

// Result is the dispatch result for one deliverable target.
type Result struct {
	Delivery rules.Delivery
	// Path is where a folder target was filed; empty for other kinds.
	Path string
	// Kept is set when a folder target named the source folder, so the
	// message was left in place.
	Kept      bool
	Delivered bool
	Err       error
}

// Outcome is the result of filing one message.
type Outcome struct {
	// ID identifies this filing attempt in logs.
	ID        string
	MessageID string
	Results   []Result
	// AllDelivered is true only when there was at least one target and
	// every target was dispatched successfully. Callers must not remove the
	// source message otherwise.
	AllDelivered bool
	Alert        bool
	Labels       []string
	// UsedDefault reports that the DEFAULT targets were used because no
	// rule accrued a deliverable target.
	UsedDefault bool
	// KeptInSource means a target asked for the message to stay in the
	// source folder; it must not be removed even when AllDelivered.
	KeptInSource bool
	ActionErrors []error
	// Err aggregates every dispatch failure, or explains why nothing was
	// dispatched.
	Err error
}

// Delivered returns the results that succeeded.
func (o *Outcome) Delivered() []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Delivered {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the results that failed.
func (o *Outcome) Failed() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.Delivered {
			out = append(out, r)
		}
	}
	return out
}

// DispatchError records a deliverable target that could not be dispatched.
type DispatchError struct {
	Delivery rules.Delivery
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Delivery.Kind, e.Delivery, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

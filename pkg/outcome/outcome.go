// Package outcome is the result of a compare-and-swap state transition.
package outcome

import "fmt"

type Kind string

const (
	KindNoOp     Kind = "NOOP"
	KindApplied  Kind = "APPLIED"
	KindRejected Kind = "REJECTED"
)

// Outcome reports what a transition attempt did. A stale writer whose CAS
// matched zero rows gets NoOp, never an error.
type Outcome struct {
	Kind   Kind
	Reason string
}

func NoOp() Outcome { return Outcome{Kind: KindNoOp} }

func Applied() Outcome { return Outcome{Kind: KindApplied} }

func Rejected(format string, args ...any) Outcome {
	return Outcome{Kind: KindRejected, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) IsApplied() bool  { return o.Kind == KindApplied }
func (o Outcome) IsNoOp() bool     { return o.Kind == KindNoOp || o.Kind == "" }
func (o Outcome) IsRejected() bool { return o.Kind == KindRejected }

func (o Outcome) String() string {
	if o.Kind == "" {
		return string(KindNoOp)
	}
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
}

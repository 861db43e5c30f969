package rounds

import (
	"context"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
)

// Bundle is one round of requests from a generator.
type Bundle struct {
	Requests []gateway.Request
	// Done signals that the generator needs nothing more.
	Done bool
}

// Generator proposes retrieval requests. A nil bundle is treated as an
// empty one that is not done.
type Generator interface {
	NextRound(ctx context.Context, index *evidence.Index, t Transcript) (*Bundle, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, index *evidence.Index, t Transcript) (*Bundle, error)

// NextRound implements Generator.
func (f GeneratorFunc) NextRound(ctx context.Context, index *evidence.Index, t Transcript) (*Bundle, error) {
	return f(ctx, index, t)
}

// Status is the outcome of one transcript entry.
type Status string

const (
	StatusServed    Status = "served"
	StatusDenied    Status = "denied"
	StatusRefused   Status = "refused"
	StatusSkipped   Status = "skipped"
	StatusExhausted Status = "exhausted"
)

// Entry records one request and what came of it.
type Entry struct {
	Request gateway.WireRequest `json:"request"`
	Status  Status              `json:"status"`
	Bytes   int                 `json:"bytes,omitempty"`
	Result  any                 `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Round is one exchange.
type Round struct {
	N          int     `json:"round"`
	Requested  int     `json:"requested"`
	Duplicates int     `json:"duplicates"`
	Done       bool    `json:"done,omitempty"`
	Entries    []Entry `json:"entries"`
}

// Transcript is every round so far, oldest first.
type Transcript struct {
	Rounds []Round `json:"rounds"`
}

// Len returns the number of rounds.
func (t Transcript) Len() int { return len(t.Rounds) }

// StopReason says why a session ended.
type StopReason string

const (
	StopDone      StopReason = "done"
	StopNoNew     StopReason = "no-new-requests"
	StopMaxRounds StopReason = "max-rounds"
)

// Summary counts transcript outcomes.
type Summary struct {
	Rounds     int        `json:"rounds"`
	Served     int        `json:"served"`
	Denied     int        `json:"denied"`
	Refused    int        `json:"refused"`
	Skipped    int        `json:"skipped"`
	Exhausted  int        `json:"exhausted"`
	Duplicates int        `json:"duplicates"`
	Bytes      int        `json:"bytes"`
	StopReason StopReason `json:"stopReason"`
}

// Result is the outcome of a session.
type Result struct {
	Transcript Transcript
	Summary    Summary
}

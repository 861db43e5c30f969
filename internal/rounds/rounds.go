package rounds

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/gateway"
)

// DefaultMaxRounds bounds a session when Options.MaxRounds is zero.
const DefaultMaxRounds = 6

// Options configures an Orchestrator.
type Options struct {
	MaxRounds int
	// Concurrency bounds how many request kinds are served at once within a
	// round. Requests of one kind are always served in order.
	Concurrency int
	Logger      *zap.Logger
}

// Orchestrator runs retrieval sessions against one gateway.
type Orchestrator struct {
	gw   *gateway.Gateway
	gen  Generator
	opts Options
	log  *zap.Logger
}

// New returns an orchestrator.
func New(gw *gateway.Gateway, gen Generator, opts Options) *Orchestrator {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{gw: gw, gen: gen, opts: opts, log: log}
}

type session struct {
	seen       map[gateway.Kind]map[string]bool
	transcript Transcript
	summary    Summary
}

func (s *session) firstSeen(r gateway.Request) bool {
	set := s.seen[r.Kind()]
	if set == nil {
		set = make(map[string]bool)
		s.seen[r.Kind()] = set
	}
	sig := r.Signature()
	if set[sig] {
		return false
	}
	set[sig] = true
	return true
}

// Run drives one session to completion. Only generator failures and fatal
// gateway errors (corrupt store content, snapshot I/O) are returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	s := &session{seen: make(map[gateway.Kind]map[string]bool)}

	for n := 1; ; n++ {
		if n > o.opts.MaxRounds {
			s.summary.StopReason = StopMaxRounds
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := o.gen.NextRound(ctx, o.gw.Index(), s.transcript)
		if err != nil {
			return nil, fmt.Errorf("round %d: generator: %w", n, err)
		}
		if b == nil {
			b = &Bundle{}
		}

		round := Round{N: n, Requested: len(b.Requests), Done: b.Done}
		if b.Done {
			s.transcript.Rounds = append(s.transcript.Rounds, round)
			s.summary.StopReason = StopDone
			break
		}

		var fresh []gateway.Request
		for _, r := range b.Requests {
			nr, err := o.gw.Normalize(r)
			if err != nil {
				round.Entries = append(round.Entries, refused(r, err))
				continue
			}
			if !s.firstSeen(nr) {
				round.Duplicates++
				continue
			}
			fresh = append(fresh, nr)
		}
		if len(fresh) == 0 {
			s.transcript.Rounds = append(s.transcript.Rounds, round)
			s.summary.Duplicates += round.Duplicates
			s.summary.StopReason = StopNoNew
			break
		}

		entries, err := o.serve(ctx, fresh)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", n, err)
		}
		round.Entries = append(round.Entries, entries...)
		s.transcript.Rounds = append(s.transcript.Rounds, round)
		s.summary.Duplicates += round.Duplicates

		o.log.Debug("round served",
			zap.Int("round", n),
			zap.Int("requested", round.Requested),
			zap.Int("new", len(fresh)),
			zap.Int("duplicates", round.Duplicates),
			zap.Int("entries", len(entries)),
		)
	}

	s.summary.Rounds = len(s.transcript.Rounds)
	for _, r := range s.transcript.Rounds {
		for _, e := range r.Entries {
			s.summary.Bytes += e.Bytes
			switch e.Status {
			case StatusServed:
				s.summary.Served++
			case StatusDenied:
				s.summary.Denied++
			case StatusRefused:
				s.summary.Refused++
			case StatusSkipped:
				s.summary.Skipped++
			case StatusExhausted:
				s.summary.Exhausted++
			}
		}
	}
	o.log.Info("retrieval session finished",
		zap.Int("rounds", s.summary.Rounds),
		zap.Int("served", s.summary.Served),
		zap.Int("skipped", s.summary.Skipped),
		zap.Int("bytes", s.summary.Bytes),
		zap.String("stop", string(s.summary.StopReason)),
	)
	return &Result{Transcript: s.transcript, Summary: s.summary}, nil
}

// serve handles the hunk requests first, then every other kind with one
// goroutine per kind. Entries come back in a deterministic order.
func (o *Orchestrator) serve(ctx context.Context, reqs []gateway.Request) ([]Entry, error) {
	var hunkIDs []string
	byKind := make(map[gateway.Kind][]gateway.Request)
	for _, r := range reqs {
		if h, ok := r.(gateway.HunkRequest); ok {
			hunkIDs = append(hunkIDs, h.ID)
			continue
		}
		byKind[r.Kind()] = append(byKind[r.Kind()], r)
	}

	entries, err := o.serveHunks(ctx, hunkIDs)
	if err != nil {
		return nil, err
	}

	var kinds []gateway.Kind
	for _, k := range gateway.Kinds {
		if len(byKind[k]) > 0 {
			kinds = append(kinds, k)
		}
	}
	results := make([][]Entry, len(kinds))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.opts.Concurrency)
	for i, k := range kinds {
		eg.Go(func() error {
			out := make([]Entry, 0, len(byKind[k]))
			for _, r := range byKind[k] {
				e, err := o.serveOne(egCtx, r)
				if err != nil {
					return err
				}
				out = append(out, e)
			}
			results[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		entries = append(entries, r...)
	}
	return entries, nil
}

func (o *Orchestrator) serveOne(ctx context.Context, r gateway.Request) (Entry, error) {
	resp, err := o.gw.Serve(ctx, r)
	switch {
	case err == nil:
		return Entry{Request: gateway.ToWire(r), Status: StatusServed, Bytes: resp.Bytes, Result: resp.Result}, nil
	case errs.Is(err, errs.CodeBudgetExhausted):
		return Entry{Request: gateway.ToWire(r), Status: StatusExhausted, Error: err.Error()}, nil
	case errs.Is(err, errs.CodeBudgetExceeded):
		return Entry{Request: gateway.ToWire(r), Status: StatusSkipped, Error: err.Error()}, nil
	case errs.Is(err, errs.CodeInvalidRequest):
		return refused(r, err), nil
	default:
		return Entry{}, fmt.Errorf("serving %s: %w", r.Signature(), err)
	}
}

// serveHunks serves ids in chunks. A chunk starts as the whole set and is
// halved each time it does not fit the remaining budget. A single id that
// still does not fit is skipped. Once the budget is exhausted the remaining
// ids are recorded as such.
func (o *Orchestrator) serveHunks(ctx context.Context, ids []string) ([]Entry, error) {
	var entries []Entry
	index := o.gw.Index()

	var allowed []string
	for _, id := range ids {
		if !index.HasHunk(id) {
			entries = append(entries, Entry{
				Request: gateway.WireRequest{Kind: gateway.KindHunk, ID: id},
				Status:  StatusDenied,
				Error:   "hunk is not part of the evidence index",
			})
			continue
		}
		allowed = append(allowed, id)
	}

	chunk := len(allowed)
	for i := 0; i < len(allowed); {
		end := i + chunk
		if end > len(allowed) {
			end = len(allowed)
		}
		part := allowed[i:end]
		res, n, err := o.gw.Hunks(ctx, part)
		switch {
		case err == nil:
			entries = append(entries, Entry{
				Request: gateway.WireRequest{Kind: gateway.KindHunk, IDs: part},
				Status:  StatusServed,
				Bytes:   n,
				Result:  res,
			})
			i = end
		case errs.Is(err, errs.CodeBudgetExceeded):
			if len(part) == 1 {
				o.log.Debug("skipping hunk larger than remaining budget", zap.String("id", part[0]))
				entries = append(entries, Entry{
					Request: gateway.WireRequest{Kind: gateway.KindHunk, ID: part[0]},
					Status:  StatusSkipped,
					Error:   err.Error(),
				})
				i++
				continue
			}
			chunk = len(part) / 2
		case errs.Is(err, errs.CodeBudgetExhausted):
			entries = append(entries, Entry{
				Request: gateway.WireRequest{Kind: gateway.KindHunk, IDs: allowed[i:]},
				Status:  StatusExhausted,
				Error:   err.Error(),
			})
			return entries, nil
		default:
			return nil, fmt.Errorf("serving hunks: %w", err)
		}
	}
	return entries, nil
}

func refused(r gateway.Request, err error) Entry {
	var w gateway.WireRequest
	if r != nil {
		w = gateway.ToWire(r)
	}
	return Entry{Request: w, Status: StatusRefused, Error: err.Error()}
}

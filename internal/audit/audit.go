// Package audit owns the append-only access trail. Every gated call
// produces exactly one Record; the Builder guarantees the finalize-and-write
// on every exit path.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
)

// State is a gate call's position in its lifecycle.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateAuthorizing State = "AUTHORIZING"
	StateAllowed     State = "ALLOWED"
	StateExecuting   State = "EXECUTING"
	StateCompleted   State = "COMPLETED"
	StateDenied      State = "DENIED"
)

// Gated actions.
const (
	ActionRetrieve = "retrieve"
	ActionDraft    = "draft"
)

// Record is one audit entry: the access decision plus the outcome summary.
// Immutable once written; the sink is append-only.
type Record struct {
	ID          string
	CallerID    string
	CallerRole  models.Role
	Action      string
	ResourceID  string
	Sensitivity models.Sensitivity
	Allowed     bool
	State       State
	ChunkIDs    []string
	Reason      string
	Timestamp   time.Time
}

// Sink is the append-only write target. Durability is assumed once Write
// returns nil.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// MemorySink keeps records in memory. Used by tests and by CLI runs without
// a database.
type MemorySink struct {
	mu   sync.Mutex
	recs []*Record
}

func (s *MemorySink) Write(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// Builder accumulates one record across a gated call and writes it exactly
// once. Acquire on entry, finalize on every exit path.
type Builder struct {
	rec   *Record
	sink  Sink
	clock func() time.Time
	done  bool
}

func Begin(sink Sink, clock func() time.Time, caller models.Caller, action, resourceID string) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{
		rec: &Record{
			ID:          uuid.NewString(),
			CallerID:    caller.ID,
			CallerRole:  caller.Role,
			Action:      action,
			ResourceID:  resourceID,
			Sensitivity: models.SensitivityStandard,
			State:       StateReceived,
		},
		sink:  sink,
		clock: clock,
	}
}

// Transition advances the call state.
func (b *Builder) Transition(s State) {
	b.rec.State = s
}

// Allow marks the authorization decision positive.
func (b *Builder) Allow() {
	b.rec.Allowed = true
	b.rec.State = StateAllowed
}

// Deny records a denial with a generic reason. The reason names roles and
// sensitivity labels only, never resources that may or may not exist.
func (b *Builder) Deny(reason string) {
	b.rec.Allowed = false
	b.rec.State = StateDenied
	b.rec.Reason = reason
}

// Fail records an internal failure during execution. The call still
// terminates as COMPLETED with the failure reason, per the one-record rule.
func (b *Builder) Fail(reason string) {
	b.rec.State = StateCompleted
	b.rec.Reason = reason
}

// Complete records a successful outcome.
func (b *Builder) Complete() {
	b.rec.State = StateCompleted
}

// Outcome attaches the retrieved chunk ids.
func (b *Builder) Outcome(chunkIDs []string) {
	b.rec.ChunkIDs = chunkIDs
}

// Sensitivity records the highest sensitivity the call touched.
func (b *Builder) Sensitivity(s models.Sensitivity) {
	b.rec.Sensitivity = s
}

// Finalize stamps the terminal-transition time and writes the record.
// Idempotent; a failed write is ErrAuditWrite, which the gate treats as
// fatal for the whole call.
func (b *Builder) Finalize(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.rec.Timestamp = b.clock()
	if err := b.sink.Write(ctx, b.rec); err != nil {
		log.Error().Err(err).Str("record", b.rec.ID).Msg("audit write failed")
		return fmt.Errorf("%w: %v", errs.ErrAuditWrite, err)
	}
	return nil
}

// Package gate wraps every retrieval and generation call with the access
// check and the audit trail. No retrieval result and no draft reaches a
// caller except through here.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/NDAR123909/vbi-claims-navigator/internal/access"
	"github.com/NDAR123909/vbi-claims-navigator/internal/audit"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/generator"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
	"github.com/NDAR123909/vbi-claims-navigator/internal/retriever"
)

type Gate struct {
	retriever *retriever.Retriever
	generator *generator.Generator
	sink      audit.Sink
	clock     func() time.Time
}

func New(r *retriever.Retriever, g *generator.Generator, sink audit.Sink) *Gate {
	return &Gate{retriever: r, generator: g, sink: sink, clock: time.Now}
}

// Retrieve runs an access-filtered retrieval for the caller. The
// authorization decision here is coarse (a recognized role); the fine
// decision is the sensitivity filter the retriever pushes into the index.
// Exactly one audit record is written, on every path. If that write fails
// the call fails, even when retrieval succeeded.
func (g *Gate) Retrieve(ctx context.Context, caller models.Caller, clientID, queryText string, k int) (rr *models.RetrievalResult, err error) {
	b := audit.Begin(g.sink, g.clock, caller, audit.ActionRetrieve, clientID)
	defer func() {
		if ferr := b.Finalize(ctx); ferr != nil {
			rr, err = nil, ferr
		}
	}()

	b.Transition(audit.StateAuthorizing)
	if !caller.Role.Valid() {
		b.Deny("role not recognized")
		return nil, fmt.Errorf("%w: role not recognized", errs.ErrDenied)
	}
	b.Allow()

	b.Transition(audit.StateExecuting)
	rr, err = g.retriever.Retrieve(ctx, caller, clientID, queryText, k)
	if err != nil {
		b.Fail(errs.Label(err))
		return nil, err
	}

	b.Outcome(rr.ChunkIDs())
	b.Sensitivity(highestSensitivity(rr))
	b.Complete()
	return rr, nil
}

// Draft runs citation-constrained generation over a retrieval result. The
// gate re-verifies every chunk's sensitivity against the caller before the
// backend sees any content, so a replayed or tampered retrieval result
// cannot smuggle PHI past the capability check.
func (g *Gate) Draft(ctx context.Context, caller models.Caller, instructions string, rr *models.RetrievalResult) (draft *models.Draft, err error) {
	resource := ""
	if rr != nil {
		resource = rr.ClientID
	}
	b := audit.Begin(g.sink, g.clock, caller, audit.ActionDraft, resource)
	defer func() {
		if ferr := b.Finalize(ctx); ferr != nil {
			draft, err = nil, ferr
		}
	}()

	b.Transition(audit.StateAuthorizing)
	if !caller.Role.Valid() {
		b.Deny("role not recognized")
		return nil, fmt.Errorf("%w: role not recognized", errs.ErrDenied)
	}
	if rr != nil {
		for _, c := range rr.Chunks {
			if !access.Allowed(caller, c.Sensitivity) {
				b.Sensitivity(c.Sensitivity)
				b.Deny(fmt.Sprintf("role %s lacks access to %s content", caller.Role, c.Sensitivity))
				return nil, fmt.Errorf("%w: sensitivity not permitted for role", errs.ErrDenied)
			}
		}
		b.Sensitivity(highestSensitivity(rr))
		b.Outcome(rr.ChunkIDs())
	}
	b.Allow()

	b.Transition(audit.StateExecuting)
	draft, err = g.generator.Draft(ctx, instructions, rr)
	if err != nil {
		b.Fail(errs.Label(err))
		return nil, err
	}

	b.Complete()
	return draft, nil
}

func highestSensitivity(rr *models.RetrievalResult) models.Sensitivity {
	for _, c := range rr.Chunks {
		if c.Sensitivity == models.SensitivityPHI {
			return models.SensitivityPHI
		}
	}
	return models.SensitivityStandard
}

// Package retriever turns a query string into a ranked, access-filtered
// retrieval result.
package retriever

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/NDAR123909/vbi-claims-navigator/internal/access"
	"github.com/NDAR123909/vbi-claims-navigator/internal/embedding"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/index"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
)

type Retriever struct {
	gateway *embedding.Gateway
	index   *index.Index
}

func New(gateway *embedding.Gateway, ix *index.Index) *Retriever {
	return &Retriever{gateway: gateway, index: ix}
}

// Retrieve embeds the query and runs the index query with the sensitivity
// filter derived from the caller's role and capability. The filter is
// applied inside the index, so k stays meaningful: excluded chunks never
// occupy result slots.
func (r *Retriever) Retrieve(ctx context.Context, caller models.Caller, clientID, queryText string, k int) (*models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", errs.ErrConfiguration, k)
	}
	allowed := access.Filter(caller)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: role not recognized", errs.ErrDenied)
	}

	vector, err := r.gateway.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	chunks, err := r.index.Query(ctx, clientID, vector, k, allowed)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("caller", caller.ID).
		Str("client", clientID).
		Int("k", k).
		Int("hits", len(chunks)).
		Msg("retrieval complete")

	return &models.RetrievalResult{ClientID: clientID, Chunks: chunks}, nil
}

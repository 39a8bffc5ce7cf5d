// Package ingest drives a document from extracted text to indexed chunks:
// chunk, embed, upsert, advancing the lifecycle state as it goes.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/NDAR123909/vbi-claims-navigator/internal/chunker"
	"github.com/NDAR123909/vbi-claims-navigator/internal/embedding"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/index"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
	"github.com/NDAR123909/vbi-claims-navigator/internal/store"
)

type Pipeline struct {
	chunker *chunker.Chunker
	gateway *embedding.Gateway
	index   *index.Index
	db      *bun.DB // nil when running without a relational store
	workers int

	mu    sync.Mutex
	locks map[string]*docLock
}

// docLock is a per-document mutex with a holder count, so entries can be
// dropped from the map once the last interested ingest finishes.
type docLock struct {
	mu   sync.Mutex
	refs int
}

func New(ch *chunker.Chunker, gw *embedding.Gateway, ix *index.Index, db *bun.DB, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		chunker: ch,
		gateway: gw,
		index:   ix,
		db:      db,
		workers: workers,
		locks:   map[string]*docLock{},
	}
}

// acquire returns the per-document lock, creating it on first use. A second
// re-index of the same document queues behind the one in flight rather than
// racing it.
func (p *Pipeline) acquire(docID string) *docLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[docID]
	if !ok {
		l = &docLock{}
		p.locks[docID] = l
	}
	l.refs++
	return l
}

// release drops the map entry once nobody holds or waits on the lock.
func (p *Pipeline) release(docID string, l *docLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, docID)
	}
}

// IngestDocument chunks, embeds and indexes one document. Re-running it
// replaces the document's chunk set; identical input text produces a
// byte-identical chunk set.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *store.Document) error {
	lock := p.acquire(doc.ID)
	defer p.release(doc.ID, lock)
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return p.ingestLocked(ctx, doc)
}

// TryIngestDocument is the non-waiting variant: if a re-index of the same
// document is already in flight it returns ErrConflict instead of queueing.
func (p *Pipeline) TryIngestDocument(ctx context.Context, doc *store.Document) error {
	lock := p.acquire(doc.ID)
	defer p.release(doc.ID, lock)
	if !lock.mu.TryLock() {
		return fmt.Errorf("%w: document %s is being re-indexed", errs.ErrConflict, doc.ID)
	}
	defer lock.mu.Unlock()
	return p.ingestLocked(ctx, doc)
}

func (p *Pipeline) ingestLocked(ctx context.Context, doc *store.Document) error {
	clientID := strconv.FormatInt(doc.ClientID, 10)

	pieces := p.chunker.Chunk(doc.Text)
	if err := p.setStatus(ctx, doc, models.StatusChunked); err != nil {
		return err
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
	}
	vectors, err := p.gateway.EmbedTexts(ctx, texts)
	if err != nil {
		p.markFailed(ctx, doc, err)
		return err
	}

	sensitivity := models.Sensitivity(doc.Sensitivity)
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			DocumentID:  doc.ID,
			SequenceNo:  piece.SequenceNo,
			Content:     piece.Content,
			Sensitivity: sensitivity,
			Embedding:   vectors[i],
		}
	}

	if err := p.index.Upsert(ctx, clientID, doc.ID, sensitivity, chunks); err != nil {
		p.markFailed(ctx, doc, err)
		return err
	}

	if err := p.setStatus(ctx, doc, models.StatusIndexed); err != nil {
		return err
	}
	log.Info().
		Str("document", doc.ID).
		Str("client", clientID).
		Int("chunks", len(chunks)).
		Msg("document indexed")
	return nil
}

// IngestAll runs documents through the pipeline concurrently. Distinct
// documents proceed in parallel; the per-document lock still serializes any
// overlap on the same document.
func (p *Pipeline) IngestAll(ctx context.Context, docs []*store.Document) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, doc := range docs {
		g.Go(func() error {
			return p.IngestDocument(ctx, doc)
		})
	}
	return g.Wait()
}

func (p *Pipeline) setStatus(ctx context.Context, doc *store.Document, status string) error {
	doc.Status = status
	if p.db == nil {
		return nil
	}
	return store.UpdateDocumentStatus(ctx, p.db, doc.ID, status)
}

func (p *Pipeline) markFailed(ctx context.Context, doc *store.Document, cause error) {
	log.Error().Err(cause).Str("document", doc.ID).Msg("ingestion failed")
	if err := p.setStatus(ctx, doc, models.StatusFailed); err != nil {
		log.Error().Err(err).Str("document", doc.ID).Msg("failed to record failed status")
	}
}

// Package index is the per-tenant vector index. Each client gets its own
// chromem collection, so cross-client queries are impossible by
// construction: the client id is part of the partition, not a post-filter.
package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
)

const (
	metaDocumentID  = "document_id"
	metaSequenceNo  = "sequence_no"
	metaSensitivity = "sensitivity"

	compress = false
)

// Index wraps a chromem DB with one partition per client. Writers hold a
// partition's write lock across the whole delete+add of a document's chunk
// set, so readers see either all-old or all-new chunks, never a mix.
type Index struct {
	db          *chromem.DB
	path        string
	snapshotKey string

	mu    sync.Mutex
	parts map[string]*partition
}

type partition struct {
	mu  sync.RWMutex
	col *chromem.Collection

	// docs is rebuilt lazily from persisted chunk metadata after a restart;
	// hydrated reports whether it reflects the collection.
	docs     map[string]docMeta
	hydrated bool
}

type docMeta struct {
	sensitivity models.Sensitivity
	chunks      int
}

// New opens the vector index, persistent under path or purely in memory.
func New(path string, inMemory bool, snapshotKey string) (*Index, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector database: %v", err)
		}
	}
	// chromem wants a 32-byte AES key; derive one from the configured secret
	if snapshotKey != "" {
		sum := sha256.Sum256([]byte(snapshotKey))
		snapshotKey = string(sum[:])
	}
	return &Index{
		db:          db,
		path:        path,
		snapshotKey: snapshotKey,
		parts:       map[string]*partition{},
	}, nil
}

func collectionName(clientID string) string {
	return "client-" + clientID
}

func (ix *Index) getPartition(clientID string, create bool) (*partition, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if p, ok := ix.parts[clientID]; ok {
		return p, nil
	}
	var col *chromem.Collection
	if create {
		var err error
		col, err = ix.db.GetOrCreateCollection(collectionName(clientID), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create/get collection: %v", err)
		}
	} else {
		// a persistent DB loads collections from disk at open; pick the
		// client's partition back up if it survived a restart
		col = ix.db.GetCollection(collectionName(clientID), nil)
		if col == nil {
			return nil, nil
		}
	}
	p := &partition{col: col, docs: map[string]docMeta{}, hydrated: col.Count() == 0}
	ix.parts[clientID] = p
	return p, nil
}

// hydrate rebuilds the per-document metadata from the persisted chunks. The
// scan needs a probe vector of the stored dimension; callers pass the query
// or upsert vector they already have.
func (p *partition) hydrate(ctx context.Context, vector []float32) error {
	p.mu.RLock()
	done := p.hydrated
	p.mu.RUnlock()
	if done {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hydrated {
		return nil
	}
	n := p.col.Count()
	if n == 0 {
		p.hydrated = true
		return nil
	}
	results, err := p.col.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return fmt.Errorf("failed to load persisted chunk metadata: %v", err)
	}
	docs := map[string]docMeta{}
	for _, r := range results {
		id := r.Metadata[metaDocumentID]
		m := docs[id]
		m.sensitivity = models.Sensitivity(r.Metadata[metaSensitivity])
		m.chunks++
		docs[id] = m
	}
	p.docs = docs
	p.hydrated = true
	return nil
}

// Upsert replaces all chunks of the document atomically from the reader's
// perspective. Chunks must all belong to documentID and carry embeddings.
func (ix *Index) Upsert(ctx context.Context, clientID, documentID string, sensitivity models.Sensitivity, chunks []models.Chunk) error {
	if !sensitivity.Valid() {
		return fmt.Errorf("%w: invalid sensitivity tag %q", errs.ErrConfiguration, sensitivity)
	}
	p, err := ix.getPartition(clientID, true)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s does not belong to document %s", errs.ErrConfiguration, c.ID(), documentID)
		}
		docs = append(docs, chromem.Document{
			ID:      c.ID(),
			Content: c.Content,
			Metadata: map[string]string{
				metaDocumentID:  c.DocumentID,
				metaSequenceNo:  strconv.Itoa(c.SequenceNo),
				metaSensitivity: string(sensitivity),
			},
			Embedding: c.Embedding,
		})
	}

	if len(chunks) > 0 {
		if err := p.hydrate(ctx, chunks[0].Embedding); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// delete by filter regardless of what the metadata map says: a chunk set
	// persisted before a restart must still be replaced, and the delete is a
	// no-op when nothing matches
	if err := p.col.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("failed to drop previous chunk set: %v", err)
	}
	delete(p.docs, documentID)
	if len(docs) > 0 {
		if err := p.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add chunks: %v", err)
		}
		p.docs[documentID] = docMeta{sensitivity: sensitivity, chunks: len(docs)}
	}
	log.Debug().Str("client", clientID).Str("document", documentID).Int("chunks", len(docs)).Msg("upserted chunk set")
	return nil
}

// Remove deletes a document's chunks from the partition.
func (ix *Index) Remove(ctx context.Context, clientID, documentID string) error {
	p, err := ix.getPartition(clientID, false)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: no indexed documents for client", errs.ErrNotFound)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.docs[documentID]; !ok {
		// chunks are numbered from 1, so the first one stands in for the
		// document when the metadata map has not been rebuilt yet
		if p.hydrated {
			return fmt.Errorf("%w: document not indexed", errs.ErrNotFound)
		}
		if _, err := p.col.GetByID(ctx, models.ChunkID(documentID, 1)); err != nil {
			return fmt.Errorf("%w: document not indexed", errs.ErrNotFound)
		}
	}
	if err := p.col.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %v", err)
	}
	delete(p.docs, documentID)
	return nil
}

// Query returns the top-k chunks the sensitivity filter admits, ordered by
// descending cosine similarity with ties broken by ascending
// (document_id, sequence_no). A client with no indexed documents is
// ErrNotFound; a valid partition whose filter admits nothing is an empty
// result.
func (ix *Index) Query(ctx context.Context, clientID string, vector []float32, k int, allowed []models.Sensitivity) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", errs.ErrConfiguration, k)
	}
	p, err := ix.getPartition(clientID, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no indexed documents for client", errs.ErrNotFound)
	}
	if err := p.hydrate(ctx, vector); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.docs) == 0 {
		return nil, fmt.Errorf("%w: no indexed documents for client", errs.ErrNotFound)
	}

	phiAllowed := false
	for _, s := range allowed {
		if s == models.SensitivityPHI {
			phiAllowed = true
		}
	}
	eligible := 0
	for _, m := range p.docs {
		if m.sensitivity == models.SensitivityPHI && !phiAllowed {
			continue
		}
		eligible += m.chunks
	}
	if eligible == 0 {
		return []models.ScoredChunk{}, nil
	}

	opts := chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       min(k, eligible),
	}
	if !phiAllowed {
		// filter pushdown: excluded chunks never count against k
		opts.Where = map[string]string{metaSensitivity: string(models.SensitivityStandard)}
	}
	results, err := p.col.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	out := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		seq, _ := strconv.Atoi(r.Metadata[metaSequenceNo])
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{
				DocumentID:  r.Metadata[metaDocumentID],
				SequenceNo:  seq,
				Content:     r.Content,
				Sensitivity: models.Sensitivity(r.Metadata[metaSensitivity]),
				Embedding:   r.Embedding,
			},
			Score: r.Similarity,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	return out, nil
}

// HasClient reports whether the client has any indexed documents.
func (ix *Index) HasClient(clientID string) bool {
	p, _ := ix.getPartition(clientID, false)
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.docs) > 0 || p.col.Count() > 0
}

// Export snapshots a client's partition to an encrypted file.
func (ix *Index) Export(ctx context.Context, clientID string) error {
	if ix.snapshotKey == "" {
		return fmt.Errorf("%w: snapshot key is required", errs.ErrConfiguration)
	}
	p, err := ix.getPartition(clientID, false)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: no indexed documents for client", errs.ErrNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	path := ix.path + "/" + collectionName(clientID) + ".chromem"
	if err := ix.db.ExportToFile(path, compress, ix.snapshotKey, collectionName(clientID)); err != nil {
		return fmt.Errorf("failed to export partition: %v", err)
	}
	return nil
}

// Import restores partitions from a snapshot file. Per-document metadata is
// rebuilt lazily on the first query against each restored partition.
func (ix *Index) Import(ctx context.Context, path string) error {
	if ix.snapshotKey == "" {
		return fmt.Errorf("%w: snapshot key is required", errs.ErrConfiguration)
	}
	if err := ix.db.ImportFromFile(path, ix.snapshotKey); err != nil {
		return fmt.Errorf("failed to import snapshot: %v", err)
	}
	return nil
}

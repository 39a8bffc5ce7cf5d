package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New("", true, "")
	require.NoError(t, err)
	return ix
}

// unit vector along one of three axes, padded to dim 8
func axis(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

func chunksFor(docID string, sens models.Sensitivity, vecs ...[]float32) []models.Chunk {
	out := make([]models.Chunk, len(vecs))
	for i, v := range vecs {
		out[i] = models.Chunk{
			DocumentID:  docID,
			SequenceNo:  i + 1,
			Content:     fmt.Sprintf("%s chunk %d", docID, i+1),
			Sensitivity: sens,
			Embedding:   v,
		}
	}
	return out
}

var bothTags = []models.Sensitivity{models.SensitivityStandard, models.SensitivityPHI}
var standardOnly = []models.Sensitivity{models.SensitivityStandard}

func TestQueryUnknownClientIsNotFound(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.Query(context.Background(), "nobody", axis(0), 3, standardOnly)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestQueryEmptyFilteredResultIsNotAnError(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	// client has only phi content; a standard-only filter admits nothing
	require.NoError(t, ix.Upsert(ctx, "c1", "cpexam", models.SensitivityPHI,
		chunksFor("cpexam", models.SensitivityPHI, axis(0), axis(1))))

	res, err := ix.Query(ctx, "c1", axis(0), 5, standardOnly)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestQueryRanksBySimilarity(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "c1", "dd214", models.SensitivityStandard,
		chunksFor("dd214", models.SensitivityStandard, axis(0), axis(1), axis(2))))

	res, err := ix.Query(ctx, "c1", axis(1), 2, standardOnly)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 2, res[0].SequenceNo)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestQueryTieBreakIsDeterministic(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	// identical vectors: similarity ties everywhere
	same := axis(3)
	require.NoError(t, ix.Upsert(ctx, "c1", "doc-b", models.SensitivityStandard,
		chunksFor("doc-b", models.SensitivityStandard, same, same)))
	require.NoError(t, ix.Upsert(ctx, "c1", "doc-a", models.SensitivityStandard,
		chunksFor("doc-a", models.SensitivityStandard, same, same)))

	for run := 0; run < 5; run++ {
		res, err := ix.Query(ctx, "c1", same, 4, standardOnly)
		require.NoError(t, err)
		require.Len(t, res, 4)
		assert.Equal(t, "doc-a", res[0].DocumentID)
		assert.Equal(t, 1, res[0].SequenceNo)
		assert.Equal(t, "doc-a", res[1].DocumentID)
		assert.Equal(t, 2, res[1].SequenceNo)
		assert.Equal(t, "doc-b", res[2].DocumentID)
		assert.Equal(t, 1, res[2].SequenceNo)
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))
	require.NoError(t, ix.Upsert(ctx, "c2", "doc2", models.SensitivityStandard,
		chunksFor("doc2", models.SensitivityStandard, axis(0))))

	res, err := ix.Query(ctx, "c1", axis(0), 5, standardOnly)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "doc1", res[0].DocumentID)
}

func TestUpsertReplacesChunkSet(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0), axis(1), axis(2))))
	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))

	res, err := ix.Query(ctx, "c1", axis(0), 3, standardOnly)
	require.NoError(t, err)
	assert.Len(t, res, 1, "old generation chunks must be gone after replace")
}

func TestConcurrentReindexNeverMixesGenerations(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	genA := chunksFor("doc1", models.SensitivityStandard, axis(0), axis(1))
	genB := make([]models.Chunk, 3)
	for i := range genB {
		genB[i] = models.Chunk{
			DocumentID:  "doc1",
			SequenceNo:  i + 1,
			Content:     fmt.Sprintf("genB chunk %d", i+1),
			Sensitivity: models.SensitivityStandard,
			Embedding:   axis(i),
		}
	}
	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard, genA))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if i%2 == 0 {
				_ = ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard, genB)
			} else {
				_ = ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard, genA)
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		res, err := ix.Query(ctx, "c1", axis(0), 5, standardOnly)
		require.NoError(t, err)
		require.NotEmpty(t, res)
		isGenB := res[0].Content[:4] == "genB"
		for _, r := range res {
			assert.Equal(t, isGenB, r.Content[:4] == "genB", "result mixes chunk generations")
		}
	}
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))
	require.NoError(t, ix.Remove(ctx, "c1", "doc1"))

	_, err := ix.Query(ctx, "c1", axis(0), 1, standardOnly)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = ix.Remove(ctx, "c1", "doc1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPersistentIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix, err := New(dir, false, "")
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, "c1", "dd214", models.SensitivityStandard,
		chunksFor("dd214", models.SensitivityStandard, axis(0), axis(1))))
	require.NoError(t, ix.Upsert(ctx, "c1", "cpexam", models.SensitivityPHI,
		chunksFor("cpexam", models.SensitivityPHI, axis(2))))

	// a second process over the same path must see the persisted chunks
	reopened, err := New(dir, false, "")
	require.NoError(t, err)
	assert.True(t, reopened.HasClient("c1"))

	res, err := reopened.Query(ctx, "c1", axis(0), 5, standardOnly)
	require.NoError(t, err, "persisted chunks must remain queryable after reopen")
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "dd214", r.DocumentID)
		assert.Equal(t, models.SensitivityStandard, r.Sensitivity)
	}

	res, err = reopened.Query(ctx, "c1", axis(2), 5, bothTags)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "cpexam", res[0].DocumentID)
}

func TestUpsertAfterReopenReplacesPersistedChunks(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix, err := New(dir, false, "")
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0), axis(1), axis(2))))

	reopened, err := New(dir, false, "")
	require.NoError(t, err)
	require.NoError(t, reopened.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))

	res, err := reopened.Query(ctx, "c1", axis(0), 5, standardOnly)
	require.NoError(t, err)
	assert.Len(t, res, 1, "chunks persisted before the restart must be gone after replace")
}

func TestRemoveAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix, err := New(dir, false, "")
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))

	reopened, err := New(dir, false, "")
	require.NoError(t, err)
	require.NoError(t, reopened.Remove(ctx, "c1", "doc1"))

	err = reopened.Remove(ctx, "c1", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestExportImportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix, err := New(dir, true, "snapshot-key")
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, "c1", "dd214", models.SensitivityStandard,
		chunksFor("dd214", models.SensitivityStandard, axis(0), axis(1))))
	require.NoError(t, ix.Export(ctx, "c1"))

	restored, err := New(t.TempDir(), true, "snapshot-key")
	require.NoError(t, err)
	require.NoError(t, restored.Import(ctx, dir+"/client-c1.chromem"))

	res, err := restored.Query(ctx, "c1", axis(0), 5, standardOnly)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "dd214", res[0].DocumentID)
}

func TestExportRequiresSnapshotKey(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Upsert(ctx, "c1", "doc1", models.SensitivityStandard,
		chunksFor("doc1", models.SensitivityStandard, axis(0))))

	err := ix.Export(ctx, "c1")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestQueryPHIVisibleWithBothTags(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "c1", "dd214", models.SensitivityStandard,
		chunksFor("dd214", models.SensitivityStandard, axis(0))))
	require.NoError(t, ix.Upsert(ctx, "c1", "cpexam", models.SensitivityPHI,
		chunksFor("cpexam", models.SensitivityPHI, axis(1))))

	res, err := ix.Query(ctx, "c1", axis(1), 2, bothTags)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "cpexam", res[0].DocumentID)
	assert.Equal(t, models.SensitivityPHI, res[0].Sensitivity)
}

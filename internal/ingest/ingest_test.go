package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDAR123909/vbi-claims-navigator/internal/chunker"
	"github.com/NDAR123909/vbi-claims-navigator/internal/config"
	"github.com/NDAR123909/vbi-claims-navigator/internal/embedding"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/index"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
	"github.com/NDAR123909/vbi-claims-navigator/internal/store"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxBatchSize:      16,
		MaxRetries:        1,
		MaxInflight:       4,
		RequestsPerSecond: 1000,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *index.Index) {
	t.Helper()
	ch, err := chunker.New(40, 8, chunker.WordTokens)
	require.NoError(t, err)
	gw := embedding.NewGateway(embedding.NewStubEmbedder(32), testLimits(), 0)
	ix, err := index.New("", true, "")
	require.NoError(t, err)
	return New(ch, gw, ix, nil, 4), ix
}

func serviceRecord() string {
	var b strings.Builder
	b.WriteString("The veteran entered active duty in June 1998 and served with the infantry.\n\n")
	b.WriteString("Separation occurred in June 2006 under honorable conditions. The discharge date is recorded as 14 June 2006.\n\n")
	b.WriteString("During service the veteran was stationed overseas for two tours. Hearing protection was not consistently available near the flight line.\n\n")
	b.WriteString("The record notes exposure to sustained aircraft noise. A hearing evaluation at separation showed a measurable threshold shift.\n")
	return b.String()
}

func TestIngestDocumentIndexesAndAdvancesStatus(t *testing.T) {
	p, ix := newTestPipeline(t)
	doc := &store.Document{
		ID:          "dd214-001",
		ClientID:    7,
		Sensitivity: string(models.SensitivityStandard),
		Status:      models.StatusReceived,
		Text:        serviceRecord(),
	}

	require.NoError(t, p.IngestDocument(context.Background(), doc))
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.True(t, ix.HasClient("7"))
}

func TestIngestDocumentMarksFailedOnEmbeddingError(t *testing.T) {
	ch, err := chunker.New(40, 8, chunker.WordTokens)
	require.NoError(t, err)
	gw := embedding.NewGateway(failingEmbedder{}, testLimits(), 0)
	ix, err := index.New("", true, "")
	require.NoError(t, err)
	p := New(ch, gw, ix, nil, 1)

	doc := &store.Document{
		ID:          "dd214-002",
		ClientID:    7,
		Sensitivity: string(models.SensitivityStandard),
		Status:      models.StatusReceived,
		Text:        serviceRecord(),
	}
	err = p.IngestDocument(context.Background(), doc)
	assert.Error(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.False(t, ix.HasClient("7"))
}

// Re-indexing the same text must land the same chunk ids with the same
// content, and the old generation must be gone.
func TestReindexIsDeterministic(t *testing.T) {
	p, ix := newTestPipeline(t)
	doc := &store.Document{
		ID:          "cpexam-001",
		ClientID:    9,
		Sensitivity: string(models.SensitivityStandard),
		Status:      models.StatusReceived,
		Text:        serviceRecord(),
	}
	ctx := context.Background()

	require.NoError(t, p.IngestDocument(ctx, doc))
	query, err := p.gateway.EmbedQuery(ctx, "discharge date")
	require.NoError(t, err)
	first, err := ix.Query(ctx, "9", query, 10, []models.Sensitivity{models.SensitivityStandard})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	doc.Status = models.StatusReceived
	require.NoError(t, p.IngestDocument(ctx, doc))
	second, err := ix.Query(ctx, "9", query, 10, []models.Sensitivity{models.SensitivityStandard})
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestTryIngestConflictsWhileInFlight(t *testing.T) {
	p, _ := newTestPipeline(t)
	doc := &store.Document{
		ID:          "dd214-003",
		ClientID:    8,
		Sensitivity: string(models.SensitivityStandard),
		Status:      models.StatusReceived,
		Text:        serviceRecord(),
	}

	lock := p.acquire(doc.ID)
	lock.mu.Lock()
	err := p.TryIngestDocument(context.Background(), doc)
	lock.mu.Unlock()
	p.release(doc.ID, lock)
	assert.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, p.TryIngestDocument(context.Background(), doc))
	assert.Equal(t, models.StatusIndexed, doc.Status)
}

func TestDocumentLocksAreReleased(t *testing.T) {
	p, _ := newTestPipeline(t)
	docs := []*store.Document{
		{ID: "doc-a", ClientID: 21, Sensitivity: string(models.SensitivityStandard), Status: models.StatusReceived, Text: serviceRecord()},
		{ID: "doc-b", ClientID: 21, Sensitivity: string(models.SensitivityStandard), Status: models.StatusReceived, Text: serviceRecord()},
	}
	require.NoError(t, p.IngestAll(context.Background(), docs))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.locks, "per-document locks must not accumulate")
}

func TestIngestAllRunsEveryDocument(t *testing.T) {
	p, ix := newTestPipeline(t)
	docs := []*store.Document{
		{ID: "doc-a", ClientID: 11, Sensitivity: string(models.SensitivityStandard), Status: models.StatusReceived, Text: serviceRecord()},
		{ID: "doc-b", ClientID: 11, Sensitivity: string(models.SensitivityPHI), Status: models.StatusReceived, Text: serviceRecord()},
		{ID: "doc-c", ClientID: 12, Sensitivity: string(models.SensitivityStandard), Status: models.StatusReceived, Text: serviceRecord()},
	}

	require.NoError(t, p.IngestAll(context.Background(), docs))
	for _, doc := range docs {
		assert.Equal(t, models.StatusIndexed, doc.Status, doc.ID)
	}
	assert.True(t, ix.HasClient("11"))
	assert.True(t, ix.HasClient("12"))
}

func TestIngestAllPropagatesFailure(t *testing.T) {
	ch, err := chunker.New(40, 8, chunker.WordTokens)
	require.NoError(t, err)
	gw := embedding.NewGateway(failingEmbedder{}, testLimits(), 0)
	ix, err := index.New("", true, "")
	require.NoError(t, err)
	p := New(ch, gw, ix, nil, 2)

	docs := []*store.Document{
		{ID: "doc-x", ClientID: 13, Sensitivity: string(models.SensitivityStandard), Status: models.StatusReceived, Text: serviceRecord()},
	}
	assert.Error(t, p.IngestAll(context.Background(), docs))
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("backend unavailable")
}

func (failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("backend unavailable")
}

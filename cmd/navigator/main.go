package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NDAR123909/vbi-claims-navigator/internal/audit"
	"github.com/NDAR123909/vbi-claims-navigator/internal/chunker"
	"github.com/NDAR123909/vbi-claims-navigator/internal/config"
	"github.com/NDAR123909/vbi-claims-navigator/internal/embedding"
	"github.com/NDAR123909/vbi-claims-navigator/internal/extract"
	"github.com/NDAR123909/vbi-claims-navigator/internal/gate"
	"github.com/NDAR123909/vbi-claims-navigator/internal/generator"
	"github.com/NDAR123909/vbi-claims-navigator/internal/helper"
	"github.com/NDAR123909/vbi-claims-navigator/internal/index"
	"github.com/NDAR123909/vbi-claims-navigator/internal/ingest"
	"github.com/NDAR123909/vbi-claims-navigator/internal/llmservice"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
	"github.com/NDAR123909/vbi-claims-navigator/internal/retriever"
	"github.com/NDAR123909/vbi-claims-navigator/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	ingestPath := flag.String("ingest", "", "Path to a document file to ingest")
	clientID := flag.String("client", "", "Client id the operation applies to")
	sensitivity := flag.String("sensitivity", string(models.SensitivityStandard), "Document sensitivity: standard or phi")
	docType := flag.String("type", "", "Document type, e.g. DD214 or \"C&P Exam\"")
	query := flag.String("query", "", "Query to retrieve evidence for")
	draft := flag.Bool("draft", false, "Generate a cited draft from the retrieved evidence")
	instructions := flag.String("instructions", "Summarize the evidence relevant to the claim.", "Drafting instructions")
	role := flag.String("role", string(models.RoleReader), "Caller role")
	phi := flag.Bool("phi", false, "Caller holds the PHI capability")
	k := flag.Int("k", 0, "Number of chunks to retrieve, 0 uses the configured top_k")
	export := flag.Bool("export", false, "Snapshot the client's index partition to a file")
	importPath := flag.String("import", "", "Path to a snapshot file to restore")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	if *clientID == "" && *importPath == "" {
		log.Fatal().Msg("Please provide a client id using the -client flag")
	}

	app, err := buildApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building engine")
	}
	defer app.close()

	ctx := context.Background()
	caller := models.Caller{ID: "cli", Role: models.Role(*role), CanViewPHI: *phi}

	switch {
	case *ingestPath != "":
		ingestFile(ctx, app, *ingestPath, *clientID, *sensitivity, *docType)
	case *query != "":
		topK := *k
		if topK == 0 {
			topK = cfg.RAG.TopK
		}
		runQuery(ctx, app, caller, *clientID, *query, topK, *draft, *instructions)
	case *export:
		if err := app.index.Export(ctx, *clientID); err != nil {
			log.Fatal().Err(err).Msg("Error exporting partition snapshot")
		}
		log.Info().Str("client", *clientID).Msg("Partition snapshot exported")
	case *importPath != "":
		if err := app.index.Import(ctx, *importPath); err != nil {
			log.Fatal().Err(err).Msg("Error importing partition snapshot")
		}
		log.Info().Str("file", *importPath).Msg("Partition snapshot imported")
	default:
		log.Fatal().Msg("Please provide a document file using the -ingest flag or a query using the -query flag")
	}
}

// app holds the wired engine. Every component is built once here; the rest
// of the program only sees the gate and the pipeline.
type app struct {
	cfg      *config.Config
	pipeline *ingest.Pipeline
	gate     *gate.Gate
	index    *index.Index
	db       interface{ Close() error }
}

func buildApp(cfg *config.Config) (*app, error) {
	embedder, err := embedding.NewEmbedder(&cfg.Embedding, cfg.RAG.VectorDim)
	if err != nil {
		return nil, err
	}
	gateway := embedding.NewGateway(embedder, cfg.Limits, time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second)

	if !cfg.RAG.InMemory {
		if err := helper.CreateFolder(cfg.RAG.DBPath); err != nil {
			return nil, err
		}
	}
	ix, err := index.New(cfg.RAG.DBPath, cfg.RAG.InMemory, cfg.RAG.SnapshotKey)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(cfg.RAG.ChunkTokens, cfg.RAG.OverlapTokens, chunker.WordTokens)
	if err != nil {
		return nil, err
	}

	backend, err := llmservice.New(&cfg.Generation)
	if err != nil {
		return nil, err
	}
	gen := generator.New(backend, time.Duration(cfg.Generation.TimeoutSeconds)*time.Second)
	ret := retriever.New(gateway, ix)

	a := &app{cfg: cfg, index: ix}
	var sink audit.Sink = &audit.MemorySink{}
	if cfg.Database.URL != "" {
		sqldb, err := store.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		dbInstance := store.NewDB(sqldb, cfg.Database.Debug)
		if err := store.InitDB(context.Background(), dbInstance); err != nil {
			return nil, err
		}
		sink = store.NewAuditSink(dbInstance)
		a.db = dbInstance
		a.pipeline = ingest.New(ch, gateway, ix, dbInstance, cfg.Limits.IngestWorkers)
	} else {
		a.pipeline = ingest.New(ch, gateway, ix, nil, cfg.Limits.IngestWorkers)
	}
	a.gate = gate.New(ret, gen, sink)
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

func ingestFile(ctx context.Context, a *app, filePath, clientID, sensitivity, docType string) {
	res, err := extract.Extract(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error extracting document")
	}
	log.Info().Float64("confidence", res.Confidence).Msg("Extracted document text")

	docID, err := helper.GenerateUUID()
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating document id")
	}
	doc := &store.Document{
		ID:            docID,
		Name:          filepath.Base(filePath),
		DocumentType:  docType,
		Sensitivity:   sensitivity,
		Status:        models.StatusReceived,
		Text:          res.Text,
		OCRConfidence: res.Confidence,
	}
	doc.ClientID, err = strconv.ParseInt(clientID, 10, 64)
	if err != nil {
		log.Fatal().Err(err).Msg("Client id must be numeric")
	}

	if err := a.pipeline.IngestDocument(ctx, doc); err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	log.Info().Str("document", doc.ID).Str("status", doc.Status).Msg("Document ingested")
}

func runQuery(ctx context.Context, a *app, caller models.Caller, clientID, query string, k int, draft bool, instructions string) {
	rr, err := a.gate.Retrieve(ctx, caller, clientID, query, k)
	if err != nil {
		log.Fatal().Err(err).Msg("Error retrieving evidence")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Evidence: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, c := range rr.Chunks {
		fmt.Printf("%s (%.4f)\n%s\n\n", c.ID(), c.Score, c.Content)
	}

	if !draft {
		return
	}

	d, err := a.gate.Draft(ctx, caller, instructions, rr)
	if err != nil {
		log.Fatal().Err(err).Msg("Error drafting")
	}

	log.Info().Msg("Draft: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", d.Text)
	if d.NeedsReview {
		log.Warn().Msg("Draft contains sentences that need human review")
	}
	log.Info().Msg("Citations: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(d.Citations)
}

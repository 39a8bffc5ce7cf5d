// Package store is the relational persistence layer: clients, documents and
// the append-only audit trail. Schema ownership stops at model-first DDL;
// real deployments migrate externally.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/NDAR123909/vbi-claims-navigator/internal/audit"
	"github.com/NDAR123909/vbi-claims-navigator/internal/config"
	"github.com/NDAR123909/vbi-claims-navigator/internal/secure"
)

// Client stores veteran client identity. Name and SSN are encrypted at the
// application level before they reach a row.
type Client struct {
	bun.BaseModel `bun:"table:clients,alias:c"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	ClientNumber       string    `bun:"client_number,notnull,unique"`
	FirstNameEncrypted string    `bun:"first_name_encrypted,notnull"`
	LastNameEncrypted  string    `bun:"last_name_encrypted,notnull"`
	SSNEncrypted       string    `bun:"ssn_encrypted"`
	BranchOfService    string    `bun:"branch_of_service"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Document is one piece of client evidence with its extracted text and
// lifecycle state. The text is immutable once extraction completes;
// re-indexing replaces the chunk set, never this row's text.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID            string    `bun:"id,pk"`
	ClientID      int64     `bun:"client_id,notnull"`
	Name          string    `bun:"name,notnull"`
	DocumentType  string    `bun:"document_type"` // e.g. "DD214", "C&P Exam"
	Sensitivity   string    `bun:"sensitivity,notnull"`
	Status        string    `bun:"status,notnull"`
	Text          string    `bun:"text"`
	OCRConfidence float64   `bun:"ocr_confidence"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// AuditRecord mirrors audit.Record as a row. Insert-only: the store exposes
// no update or delete for this table.
type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_records,alias:a"`

	ID          string    `bun:"id,pk"`
	CallerID    string    `bun:"caller_id,notnull"`
	CallerRole  string    `bun:"caller_role,notnull"`
	Action      string    `bun:"action,notnull"`
	ResourceID  string    `bun:"resource_id"`
	Sensitivity string    `bun:"sensitivity,notnull"`
	Allowed     bool      `bun:"allowed,notnull"`
	State       string    `bun:"state,notnull"`
	ChunkIDs    []string  `bun:"chunk_ids,array"`
	Reason      string    `bun:"reason"`
	Timestamp   time.Time `bun:"timestamp,notnull"`
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password))), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*Client)(nil), (*Document)(nil), (*AuditRecord)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NewClient encrypts the PII fields and returns a row ready to insert.
func NewClient(enc *secure.Encryptor, clientNumber, firstName, lastName, ssn, branch string) (*Client, error) {
	first, err := enc.EncryptField(firstName)
	if err != nil {
		return nil, err
	}
	last, err := enc.EncryptField(lastName)
	if err != nil {
		return nil, err
	}
	ssnEnc, err := enc.EncryptField(ssn)
	if err != nil {
		return nil, err
	}
	return &Client{
		ClientNumber:       clientNumber,
		FirstNameEncrypted: first,
		LastNameEncrypted:  last,
		SSNEncrypted:       ssnEnc,
		BranchOfService:    branch,
	}, nil
}

func SaveClient(ctx context.Context, db *bun.DB, client *Client) error {
	_, err := db.NewInsert().Model(client).Exec(ctx)
	return err
}

func SaveDocument(ctx context.Context, db *bun.DB, doc *Document) error {
	doc.UpdatedAt = time.Now()
	_, err := db.NewInsert().
		Model(doc).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("text = EXCLUDED.text").
		Set("ocr_confidence = EXCLUDED.ocr_confidence").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func UpdateDocumentStatus(ctx context.Context, db *bun.DB, docID, status string) error {
	_, err := db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", docID).
		Exec(ctx)
	return err
}

func GetDocument(ctx context.Context, db *bun.DB, docID string) (*Document, error) {
	doc := new(Document)
	if err := db.NewSelect().Model(doc).Where("d.id = ?", docID).Scan(ctx); err != nil {
		return nil, err
	}
	return doc, nil
}

func ListClientDocuments(ctx context.Context, db *bun.DB, clientID int64) ([]Document, error) {
	var docs []Document
	err := db.NewSelect().
		Model(&docs).
		Where("d.client_id = ?", clientID).
		Order("d.created_at ASC").
		Scan(ctx)
	return docs, err
}

// AuditSink adapts the store into the audit.Sink the gate writes through.
type AuditSink struct {
	db *bun.DB
}

func NewAuditSink(db *bun.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Write(ctx context.Context, rec *audit.Record) error {
	row := &AuditRecord{
		ID:          rec.ID,
		CallerID:    rec.CallerID,
		CallerRole:  string(rec.CallerRole),
		Action:      rec.Action,
		ResourceID:  rec.ResourceID,
		Sensitivity: string(rec.Sensitivity),
		Allowed:     rec.Allowed,
		State:       string(rec.State),
		ChunkIDs:    rec.ChunkIDs,
		Reason:      rec.Reason,
		Timestamp:   rec.Timestamp,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

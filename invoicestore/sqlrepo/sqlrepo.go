// Package sqlrepo keeps invoice records in SQLite.
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
)

const (
	busyTimeout = 5 * time.Second

	createInvoiceTable = `
CREATE TABLE IF NOT EXISTS invoice (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  version TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  document TEXT NOT NULL,
  yanked INTEGER NOT NULL DEFAULT 0,
  created_at_unix INTEGER NOT NULL,
  yanked_at_unix INTEGER
);`

	createNameIndex = `CREATE INDEX IF NOT EXISTS invoice_name ON invoice (name);`
)

// Repo is an invoicestore.Repository over a SQLite database.
type Repo struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ invoicestore.Repository = (*Repo)(nil)

type invoiceRow struct {
	ID          string `db:"id"`
	Fingerprint string `db:"fingerprint"`
	Document    string `db:"document"`
	Yanked      bool   `db:"yanked"`
}

// Open connects to the database at path (":memory:" is allowed) and creates
// the schema if needed.
func Open(path string) (*Repo, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open invoice sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", int64(busyTimeout/time.Millisecond)),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cannot set sqlite database parameter: %w", err)
		}
	}
	for _, stmt := range []string{createInvoiceTable, createNameIndex} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cannot create invoice schema: %w", err)
		}
	}
	return &Repo{db: db, now: time.Now}, nil
}

func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) Insert(ctx context.Context, rec invoicestore.Record) error {
	doc := rec.Invoice.Clone()
	doc.Yanked = false
	b, err := invoice.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}
	id := doc.ID()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO invoice (id, name, version, fingerprint, document, yanked, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id.String(), id.Name, id.Version, rec.Fingerprint.String(), string(b), r.now().Unix(),
	)
	if isUniqueViolation(err) {
		return invoicestore.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *Repo) Load(ctx context.Context, id invoice.BundleID) (invoicestore.Record, error) {
	var row invoiceRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, fingerprint, document, yanked FROM invoice WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return invoicestore.Record{}, invoicestore.ErrRecordNotFound
	}
	if err != nil {
		return invoicestore.Record{}, fmt.Errorf("load invoice: %w", err)
	}
	inv, err := invoice.Unmarshal([]byte(row.Document))
	if err != nil {
		return invoicestore.Record{}, fmt.Errorf("stored invoice %s is corrupt: %w", id, err)
	}
	fp, err := digest.Parse(row.Fingerprint)
	if err != nil {
		return invoicestore.Record{}, fmt.Errorf("stored fingerprint of %s is corrupt: %w", id, err)
	}
	inv.Yanked = row.Yanked
	return invoicestore.Record{Invoice: inv, Fingerprint: fp, Yanked: row.Yanked}, nil
}

func (r *Repo) MarkYanked(ctx context.Context, id invoice.BundleID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoice SET yanked = 1, yanked_at_unix = COALESCE(yanked_at_unix, ?) WHERE id = ?`,
		r.now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("yank invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("yank invoice: %w", err)
	}
	if n == 0 {
		return invoicestore.ErrRecordNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint &&
		(serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique)
}

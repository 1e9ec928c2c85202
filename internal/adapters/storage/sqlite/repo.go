package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// memoryDBSeq keeps in-memory databases isolated from each other.
var memoryDBSeq atomic.Int64

// Repository stores negotiation aggregates and listing lookups in sqlite.
type Repository struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	dsn := fmt.Sprintf("file:haggle-mem-%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate applies idempotent schema statements.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS negotiations (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			responder_id TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			version INTEGER NOT NULL,
			document_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_negotiations_requester_status ON negotiations(requester_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_negotiations_responder_status ON negotiations(responder_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_negotiations_listing ON negotiations(listing_id, requester_id);`,
		`CREATE INDEX IF NOT EXISTS idx_negotiations_expiry ON negotiations(status, expires_at);`,
		`CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			base_price REAL NOT NULL DEFAULT 0,
			min_price REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateNegotiation inserts a new aggregate row.
func (r *Repository) CreateNegotiation(ctx context.Context, n domain.Negotiation) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode negotiation: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO negotiations(id, listing_id, requester_id, responder_id, status, expires_at, version, document_json, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.ListingID, n.RequesterID, n.ResponderID, string(n.Status), ts(n.ExpiresAt), n.Version, string(doc), ts(n.CreatedAt), ts(n.UpdatedAt))
	if err != nil {
		return classifyErr("insert negotiation", err)
	}
	return nil
}

// SaveNegotiation replaces an aggregate row when its stored version matches expectedVersion.
func (r *Repository) SaveNegotiation(ctx context.Context, n domain.Negotiation, expectedVersion int64) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode negotiation: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE negotiations
		SET status = ?, expires_at = ?, version = ?, document_json = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(n.Status), ts(n.ExpiresAt), n.Version, string(doc), ts(n.UpdatedAt), n.ID, expectedVersion)
	if err != nil {
		return classifyErr("update negotiation", err)
	}
	err = translateNoRows(res)
	if !errors.Is(err, app.ErrNotFound) {
		return err
	}
	var exists int
	switch err := r.db.QueryRowContext(ctx, `SELECT 1 FROM negotiations WHERE id = ?`, n.ID).Scan(&exists); {
	case errors.Is(err, sql.ErrNoRows):
		return app.ErrNotFound
	case err != nil:
		return classifyErr("check negotiation", err)
	}
	return app.ErrConcurrencyConflict
}

// GetNegotiation loads one aggregate.
func (r *Repository) GetNegotiation(ctx context.Context, id string) (domain.Negotiation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document_json, version FROM negotiations WHERE id = ?`, id)
	n, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Negotiation{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Negotiation{}, classifyErr("get negotiation", err)
	}
	return n, nil
}

// ListNegotiations returns the most recently updated negotiations matching filter.
func (r *Repository) ListNegotiations(ctx context.Context, filter app.NegotiationFilter) ([]domain.Negotiation, error) {
	clauses := []string{}
	args := []any{}
	if filter.ParticipantID != "" {
		clauses = append(clauses, `(requester_id = ? OR responder_id = ?)`)
		args = append(args, filter.ParticipantID, filter.ParticipantID)
	}
	if filter.Status != "" {
		clause, statusArgs := statusClause(filter.Status, filter.AsOf)
		clauses = append(clauses, clause)
		args = append(args, statusArgs...)
	}
	if filter.ListingID != "" {
		clauses = append(clauses, `listing_id = ?`)
		args = append(args, filter.ListingID)
	}
	query := `SELECT document_json, version FROM negotiations`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return r.queryNegotiations(ctx, "list negotiations", query, args...)
}

// statusClause matches the status a negotiation has at asOf. Open rows past their deadline
// read as expired until the sweep persists it.
func statusClause(status domain.Status, asOf time.Time) (string, []any) {
	if asOf.IsZero() {
		return `status = ?`, []any{string(status)}
	}
	switch status {
	case domain.StatusInitiated, domain.StatusInProgress:
		return `(status = ? AND expires_at >= ?)`, []any{string(status), ts(asOf)}
	case domain.StatusExpired:
		return `(status = ? OR (status IN (?, ?) AND expires_at < ?))`,
			[]any{string(domain.StatusExpired), string(domain.StatusInitiated), string(domain.StatusInProgress), ts(asOf)}
	default:
		return `status = ?`, []any{string(status)}
	}
}

// ListExpirable returns non-terminal negotiations whose deadline is before now, oldest first.
func (r *Repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Negotiation, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryNegotiations(ctx, "list expirable", `
		SELECT document_json, version FROM negotiations
		WHERE status IN (?, ?) AND expires_at < ?
		ORDER BY expires_at ASC, id ASC
		LIMIT ?
	`, string(domain.StatusInitiated), string(domain.StatusInProgress), ts(now), limit)
}

// FindActiveNegotiation returns the newest non-terminal negotiation for a listing and requester.
func (r *Repository) FindActiveNegotiation(ctx context.Context, listingID, requesterID string) (domain.Negotiation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT document_json, version FROM negotiations
		WHERE listing_id = ? AND requester_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`, listingID, requesterID, string(domain.StatusInitiated), string(domain.StatusInProgress))
	n, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Negotiation{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Negotiation{}, classifyErr("find active negotiation", err)
	}
	return n, nil
}

// GetListing loads a listing for offer validation.
func (r *Repository) GetListing(ctx context.Context, id string) (app.ListingInfo, error) {
	var l app.ListingInfo
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, base_price, min_price, currency FROM listings WHERE id = ?
	`, id).Scan(&l.ID, &l.OwnerID, &l.Title, &l.BasePrice, &l.MinPrice, &l.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return app.ListingInfo{}, app.ErrNotFound
	}
	if err != nil {
		return app.ListingInfo{}, classifyErr("get listing", err)
	}
	return l, nil
}

// UpsertListing inserts or replaces a listing row.
func (r *Repository) UpsertListing(ctx context.Context, l app.ListingInfo, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listings(id, owner_id, title, base_price, min_price, currency, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			base_price = excluded.base_price,
			min_price = excluded.min_price,
			currency = excluded.currency,
			updated_at = excluded.updated_at
	`, l.ID, l.OwnerID, l.Title, l.BasePrice, l.MinPrice, l.Currency, ts(now))
	if err != nil {
		return classifyErr("upsert listing", err)
	}
	return nil
}

// ListListings returns every listing ordered by id.
func (r *Repository) ListListings(ctx context.Context) ([]app.ListingInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, title, base_price, min_price, currency FROM listings ORDER BY id ASC`)
	if err != nil {
		return nil, classifyErr("list listings", err)
	}
	defer rows.Close()
	out := []app.ListingInfo{}
	for rows.Next() {
		var l app.ListingInfo
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Title, &l.BasePrice, &l.MinPrice, &l.Currency); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// queryNegotiations runs a document query and decodes every row.
func (r *Repository) queryNegotiations(ctx context.Context, op, query string, args ...any) ([]domain.Negotiation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr(op, err)
	}
	defer rows.Close()
	out := []domain.Negotiation{}
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(op, err)
	}
	return out, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanNegotiation decodes a document row. The version column is authoritative.
func scanNegotiation(s scanner) (domain.Negotiation, error) {
	var (
		doc     string
		version int64
	)
	if err := s.Scan(&doc, &version); err != nil {
		return domain.Negotiation{}, err
	}
	var n domain.Negotiation
	if err := json.Unmarshal([]byte(doc), &n); err != nil {
		return domain.Negotiation{}, fmt.Errorf("decode negotiation: %w", err)
	}
	n.Version = version
	if n.Events == nil {
		n.Events = []domain.Event{}
	}
	return n, nil
}

// translateNoRows maps a zero-row write to ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// classifyErr wraps lock contention as ErrTransient so callers retry.
func classifyErr(op string, err error) error {
	if isBusyErr(err) {
		return fmt.Errorf("%s: %w: %v", op, app.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isBusyErr reports whether sqlite refused the statement because of lock contention.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// ts formats a timestamp for storage.
func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

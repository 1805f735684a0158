package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vaultix/core/events"
	"vaultix/core/types"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Record is a committed event as persisted by the indexer.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	EscrowID   string            `json:"escrowId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type     string
	EscrowID string
	// After returns only records with a sequence strictly greater than it.
	After int64
	Limit int
}

// Store persists escrow events to SQLite so clients can page through the
// history of the contract.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ events.Emitter = (*Store)(nil)

// Open creates or opens the event database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("indexer: database path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, logger: slog.Default(), now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            escrow_id TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_escrow_id ON events(escrow_id, sequence);`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("indexer: init schema: %w", err)
		}
	}
	return nil
}

// SetLogger overrides the logger used to report persistence failures.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores the event and returns its sequence number.
func (s *Store) Insert(ctx context.Context, evt *types.Event) (int64, error) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return 0, fmt.Errorf("indexer: event type required")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return 0, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	var escrowID sql.NullString
	if id := evt.Attributes["id"]; id != "" {
		escrowID = sql.NullString{String: id, Valid: true}
	}
	const stmt = `INSERT INTO events(type, escrow_id, payload, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, evt.Type, escrowID, string(payload), s.now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Emit implements events.Emitter. Events are observational, so persistence
// failures are logged rather than propagated.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	if _, err := s.Insert(context.Background(), payload); err != nil {
		s.logger.Error("indexer: persist event failed",
			slog.String("type", payload.Type),
			slog.Any("error", err))
	}
}

// List returns records matching filter in ascending sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var (
		clauses = []string{"sequence > ?"}
		args    = []any{filter.After}
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.EscrowID != "" {
		clauses = append(clauses, "escrow_id = ?")
		args = append(args, filter.EscrowID)
	}
	args = append(args, limit)
	query := `SELECT sequence, type, escrow_id, payload, created_at FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY sequence ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			escrowID sql.NullString
			payload  string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &escrowID, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.EscrowID = escrowID.String
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastSequence returns the highest stored sequence, or zero when empty.
func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

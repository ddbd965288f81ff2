// Package labelstore is the SQLite-backed label backend: the current label of
// every target, an append-only event log of label changes, and the history
// of batch runs.
package labelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// Sentinel errors returned by Apply. Justification refusals use
// batch.ErrJustificationRequired so the engine can retry.
var (
	ErrUnknownLabel       = errors.New("labelstore: unknown label")
	ErrProtectionRequired = errors.New("labelstore: label requires protection grantees")
	ErrTargetMissing      = errors.New("labelstore: target does not exist")
)

const (
	sqlGetLabel = `SELECT label_id FROM labels WHERE target_id = ?`

	sqlGetAssignment = `SELECT target_id, label_id, protected, grantees, justification, updated_at
		FROM labels WHERE target_id = ?`

	sqlListAssignments = `SELECT target_id, label_id, protected, grantees, justification, updated_at
		FROM labels ORDER BY target_id`

	sqlUpsertLabel = `INSERT INTO labels
		(target_id, label_id, protected, grantees, justification, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
		 label_id = excluded.label_id,
		 protected = excluded.protected,
		 grantees = excluded.grantees,
		 justification = excluded.justification,
		 updated_at = excluded.updated_at`

	sqlInsertEvent = `INSERT INTO label_events
		(id, batch_id, target_id, from_label, to_label, justification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlListEvents = `SELECT id, batch_id, target_id, from_label, to_label, justification, created_at
		FROM label_events WHERE target_id = ? ORDER BY created_at DESC, id LIMIT ?`

	sqlShrinkMemory = `PRAGMA shrink_memory`
)

// Options configures Open.
type Options struct {
	// Catalog lists the labels the backend accepts. Required.
	Catalog []batch.State
	// VerifyTargets makes Apply refuse targets that do not exist on disk.
	VerifyTargets bool
	Logger        *slog.Logger
}

// Assignment is the stored label of one target.
type Assignment struct {
	TargetID      string    `json:"target_id" yaml:"target_id"`
	LabelID       string    `json:"label_id" yaml:"label_id"`
	Protected     bool      `json:"protected" yaml:"protected"`
	Grantees      []string  `json:"grantees,omitempty" yaml:"grantees,omitempty"`
	Justification string    `json:"justification,omitempty" yaml:"justification,omitempty"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Event is one recorded label change.
type Event struct {
	ID            string
	BatchID       string
	TargetID      string
	FromLabel     string // empty when the target was unlabeled
	ToLabel       string
	Justification string
	CreatedAt     time.Time
}

// Store implements batch.LabelStore and batch.ResourceReleaser on SQLite.
// It is safe for concurrent use; writes are serialized on one connection.
type Store struct {
	db      *sql.DB
	catalog map[string]batch.State
	ordered []batch.State
	verify  bool
	logger  *slog.Logger
	nowFunc func() time.Time
}

var (
	_ batch.LabelStore       = (*Store)(nil)
	_ batch.ResourceReleaser = (*Store)(nil)
)

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, opts Options) (*Store, error) {
	if len(opts.Catalog) == 0 {
		return nil, errors.New("labelstore: empty label catalog")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("labelstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		catalog: make(map[string]batch.State, len(opts.Catalog)),
		ordered: slices.Clone(opts.Catalog),
		verify:  opts.VerifyTargets,
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, l := range opts.Catalog {
		s.catalog[l.ID] = l
	}

	slices.SortFunc(s.ordered, func(a, b batch.State) int { return a.Rank - b.Rank })

	logger.Debug("label store opened",
		slog.String("db_path", dbPath),
		slog.Int("labels", len(s.catalog)),
	)

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Catalog returns the known labels ordered by rank.
func (s *Store) Catalog() []batch.State {
	return slices.Clone(s.ordered)
}

// Lookup returns the catalog entry for id.
func (s *Store) Lookup(id string) (batch.State, bool) {
	l, ok := s.catalog[id]
	return l, ok
}

// GetCurrentState returns the label of targetID, nil when the target is
// unlabeled. A stored label absent from the catalog resolves to an unknown
// state so the engine treats any move away from it as a downgrade.
func (s *Store) GetCurrentState(ctx context.Context, targetID string) (*batch.State, error) {
	var labelID string

	err := s.db.QueryRowContext(ctx, sqlGetLabel, targetID).Scan(&labelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("labelstore: reading label of %s: %w", targetID, err)
	}

	return s.resolve(labelID), nil
}

func (s *Store) resolve(labelID string) *batch.State {
	l, ok := s.catalog[labelID]
	if !ok {
		u := batch.UnknownState()
		u.ID = labelID

		return u
	}

	return &l
}

// Apply sets targetID to desired, enforcing the backend policy: lowering the
// rank needs a justification, and a protected label needs grantees. The label
// row and its event are written in one transaction.
func (s *Store) Apply(ctx context.Context, targetID string, desired batch.State, opts batch.ApplyOptions) error {
	label, ok := s.catalog[desired.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLabel, desired.ID)
	}

	if s.verify {
		if _, err := os.Stat(targetID); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrTargetMissing, targetID)
			}

			return fmt.Errorf("labelstore: checking target %s: %w", targetID, err)
		}
	}

	var grantees []string
	if label.RequiresProtection {
		if opts.Protection == nil || len(opts.Protection.Grantees) == 0 {
			return fmt.Errorf("%w: %s", ErrProtectionRequired, label.ID)
		}

		grantees = opts.Protection.Grantees
	}

	granteesJSON, err := json.Marshal(grantees)
	if err != nil {
		return fmt.Errorf("labelstore: encoding grantees: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("labelstore: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var from sql.NullString
	if err := tx.QueryRowContext(ctx, sqlGetLabel, targetID).Scan(&from); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("labelstore: reading label of %s: %w", targetID, err)
	}

	if from.Valid && from.String != label.ID && s.lowers(from.String, label) && opts.Justification == "" {
		return fmt.Errorf("%w: %s -> %s", batch.ErrJustificationRequired, from.String, label.ID)
	}

	now := s.nowFunc()

	if _, err := tx.ExecContext(ctx, sqlUpsertLabel,
		targetID, label.ID, label.RequiresProtection, string(granteesJSON), opts.Justification, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("labelstore: writing label of %s: %w", targetID, err)
	}

	if _, err := tx.ExecContext(ctx, sqlInsertEvent,
		uuid.NewString(), opts.BatchID, targetID, from, label.ID, opts.Justification, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("labelstore: recording event for %s: %w", targetID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("labelstore: committing label of %s: %w", targetID, err)
	}

	s.logger.Debug("label applied",
		slog.String("target", targetID),
		slog.String("from", from.String),
		slog.String("to", label.ID),
	)

	return nil
}

// lowers reports whether moving from fromID to target lowers the rank. A
// label outside the catalog outranks everything.
func (s *Store) lowers(fromID string, target batch.State) bool {
	from, ok := s.catalog[fromID]
	if !ok {
		return true
	}

	return target.Rank < from.Rank
}

// ReleaseResources returns cached pages to the allocator after a mutation.
func (s *Store) ReleaseResources() {
	if _, err := s.db.ExecContext(context.Background(), sqlShrinkMemory); err != nil {
		s.logger.Debug("shrink_memory failed", slog.String("error", err.Error()))
	}
}

// Assignment returns the stored label of targetID, or nil when unlabeled.
func (s *Store) Assignment(ctx context.Context, targetID string) (*Assignment, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetAssignment, targetID)
	if err != nil {
		return nil, fmt.Errorf("labelstore: reading assignment of %s: %w", targetID, err)
	}

	list, err := scanAssignments(rows)
	if err != nil {
		return nil, err
	}

	if len(list) == 0 {
		return nil, nil
	}

	return &list[0], nil
}

// Assignments returns every labeled target ordered by id.
func (s *Store) Assignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, sqlListAssignments)
	if err != nil {
		return nil, fmt.Errorf("labelstore: listing assignments: %w", err)
	}

	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]Assignment, error) {
	defer rows.Close()

	var out []Assignment

	for rows.Next() {
		var (
			a         Assignment
			grantees  string
			updatedAt int64
		)

		if err := rows.Scan(&a.TargetID, &a.LabelID, &a.Protected, &grantees, &a.Justification, &updatedAt); err != nil {
			return nil, fmt.Errorf("labelstore: scanning assignment: %w", err)
		}

		if err := json.Unmarshal([]byte(grantees), &a.Grantees); err != nil {
			return nil, fmt.Errorf("labelstore: decoding grantees of %s: %w", a.TargetID, err)
		}

		a.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("labelstore: iterating assignments: %w", err)
	}

	return out, nil
}

// Events returns the most recent label changes of targetID, newest first.
func (s *Store) Events(ctx context.Context, targetID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, sqlListEvents, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("labelstore: listing events of %s: %w", targetID, err)
	}
	defer rows.Close()

	var out []Event

	for rows.Next() {
		var (
			e         Event
			from      sql.NullString
			createdAt int64
		)

		if err := rows.Scan(&e.ID, &e.BatchID, &e.TargetID, &from, &e.ToLabel, &e.Justification, &createdAt); err != nil {
			return nil, fmt.Errorf("labelstore: scanning event: %w", err)
		}

		e.FromLabel = from.String
		e.CreatedAt = time.Unix(0, createdAt)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("labelstore: iterating events: %w", err)
	}

	return out, nil
}

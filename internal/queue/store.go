// Package queue is the approval state machine. Drafts land here as queued
// items and leave through an explicit human decision: approved items can
// be exported, rejected items are terminal, and the first decision always
// wins.
package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cryptodefiza-create/content-machine/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrNotFound is returned for an unknown queue id.
	ErrNotFound = errors.New("queue item not found")
	// ErrAlreadyDecided is returned when an item already has its decision,
	// whichever direction the repeat call takes.
	ErrAlreadyDecided = errors.New("queue item already decided")
	// ErrNotApproved is returned when export is requested for an item that
	// never reached the approved state.
	ErrNotApproved = errors.New("queue item not approved")
)

// Item is a queued draft plus its approval metadata.
type Item struct {
	ID              string  `db:"id"`
	RunID           string  `db:"run_id"`
	Persona         string  `db:"persona"`
	Topic           string  `db:"topic"`
	TopicType       string  `db:"topic_type"`
	SourceURL       string  `db:"source_url"`
	Content         string  `db:"content"`
	IsThread        bool    `db:"is_thread"`
	ThreadPartsJSON string  `db:"thread_parts"`
	VisualPrompt    string  `db:"visual_prompt"`
	IssuesJSON      string  `db:"issues"`
	EstimatedCost   float64 `db:"estimated_cost"`
	Status          string  `db:"status"`
	QueuedAt        string  `db:"queued_at"`
	DecidedBy       string  `db:"decided_by"`
	DecidedAt       string  `db:"decided_at"`
	DecideReason    string  `db:"decide_reason"`
	ExportedAt      string  `db:"exported_at"`
}

// ThreadParts decodes the stored thread parts.
func (i *Item) ThreadParts() []string {
	var parts []string
	_ = json.Unmarshal([]byte(i.ThreadPartsJSON), &parts)
	return parts
}

// Issues decodes the stored critique annotations.
func (i *Item) Issues() []string {
	var issues []string
	_ = json.Unmarshal([]byte(i.IssuesJSON), &issues)
	return issues
}

// ExportRecord is the well-formed record handed to export collaborators.
// Only approved (or previously exported) items produce one.
type ExportRecord struct {
	QueueID       string
	RunID         string
	Persona       string
	Topic         string
	TopicType     string
	SourceURL     string
	Content       string
	IsThread      bool
	ThreadParts   []string
	Issues        []string
	EstimatedCost float64
	QueuedAt      string
	ApprovedBy    string
	ApprovedAt    string
	ExportedAt    string
}

// Stats is the queue breakdown by status.
type Stats struct {
	Total    int
	Queued   int
	Approved int
	Rejected int
	Exported int
	Expired  int
}

// Store persists queue items in sqlite. Decisions are linearized by
// status-guarded updates, so concurrent approve/reject/export calls on the
// same item resolve to exactly one winner.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to (or creates) the sqlite store at path and runs
// migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent decisions.
	db.SetMaxOpenConns(1)

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}

	logger.Info("Queue store initialized", zap.String("path", path))

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func migrateDB(db *sqlx.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Enqueue stores a draft as a queued item and returns its queue id.
func (s *Store) Enqueue(ctx context.Context, draft *models.Draft) (string, error) {
	id := uuid.New().String()

	parts, err := json.Marshal(draft.ThreadParts)
	if err != nil {
		return "", fmt.Errorf("failed to encode thread parts: %w", err)
	}
	issues, err := json.Marshal(draft.Issues)
	if err != nil {
		return "", fmt.Errorf("failed to encode issues: %w", err)
	}

	query, args, err := sq.Insert("queue_items").
		Columns("id", "run_id", "persona", "topic", "topic_type", "source_url",
			"content", "is_thread", "thread_parts", "visual_prompt", "issues",
			"estimated_cost", "status", "queued_at").
		Values(id, draft.RunID, draft.Persona, draft.Topic.Text, draft.Topic.Type,
			draft.Topic.URL, draft.Content, draft.IsThread, string(parts),
			draft.VisualPrompt, string(issues), draft.EstimatedCost,
			string(models.StateQueued), s.timestamp()).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to enqueue draft: %w", err)
	}

	s.logger.Info("Draft queued",
		zap.String("queue_id", id),
		zap.String("persona", draft.Persona),
		zap.String("run_id", draft.RunID))

	return id, nil
}

// Approve marks a queued item approved. The first decision wins: a second
// call of either direction returns ErrAlreadyDecided.
func (s *Store) Approve(ctx context.Context, id, actor string) error {
	return s.decide(ctx, id, actor, string(models.StateApproved), "")
}

// Reject marks a queued item rejected with a reason.
func (s *Store) Reject(ctx context.Context, id, actor, reason string) error {
	return s.decide(ctx, id, actor, string(models.StateRejected), reason)
}

func (s *Store) decide(ctx context.Context, id, actor, status, reason string) error {
	query, args, err := sq.Update("queue_items").
		Set("status", status).
		Set("decided_by", actor).
		Set("decided_at", s.timestamp()).
		Set("decide_reason", reason).
		Where(sq.Eq{"id": id, "status": string(models.StateQueued)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 1 {
		s.logger.Info("Queue item decided",
			zap.String("queue_id", id),
			zap.String("status", status),
			zap.String("actor", actor))
		return nil
	}

	// The guarded update missed: either the item does not exist or a
	// decision already landed.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyDecided
}

// Export returns the exportable record for an approved item, marking it
// exported. Re-exporting an already exported item returns the record
// again; anything not approved is refused.
func (s *Store) Export(ctx context.Context, id string) (*ExportRecord, error) {
	query, args, err := sq.Update("queue_items").
		Set("status", string(models.StateExported)).
		Set("exported_at", s.timestamp()).
		Where(sq.Eq{"id": id, "status": string(models.StateApproved)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to mark exported: %w", err)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != string(models.StateExported) {
		return nil, ErrNotApproved
	}

	return &ExportRecord{
		QueueID:       item.ID,
		RunID:         item.RunID,
		Persona:       item.Persona,
		Topic:         item.Topic,
		TopicType:     item.TopicType,
		SourceURL:     item.SourceURL,
		Content:       item.Content,
		IsThread:      item.IsThread,
		ThreadParts:   item.ThreadParts(),
		Issues:        item.Issues(),
		EstimatedCost: item.EstimatedCost,
		QueuedAt:      item.QueuedAt,
		ApprovedBy:    item.DecidedBy,
		ApprovedAt:    item.DecidedAt,
		ExportedAt:    item.ExportedAt,
	}, nil
}

// Get returns one queue item by id.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, `SELECT * FROM queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue item: %w", err)
	}
	return &item, nil
}

// ExportRun exports every approved item of a run, oldest first. Items
// already exported are included again; anything undecided or rejected is
// left alone.
func (s *Store) ExportRun(ctx context.Context, runID string) ([]*ExportRecord, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM queue_items WHERE run_id = ? AND status IN (?, ?) ORDER BY queued_at ASC`,
		runID, string(models.StateApproved), string(models.StateExported))
	if err != nil {
		return nil, fmt.Errorf("failed to list exportable items: %w", err)
	}

	records := make([]*ExportRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Export(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Pending lists queued items, newest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []*Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM queue_items WHERE status = ? ORDER BY queued_at DESC LIMIT ?`,
		string(models.StateQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	return items, nil
}

// ExpireOldPending marks queued items older than the cutoff as expired and
// returns how many were expired.
func (s *Store) ExpireOldPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)

	query, args, err := sq.Update("queue_items").
		Set("status", string(models.StateExpired)).
		Where(sq.Eq{"status": string(models.StateQueued)}).
		Where(sq.Lt{"queued_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending items: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result: %w", err)
	}
	if count > 0 {
		s.logger.Info("Expired old pending items", zap.Int64("count", count))
	}
	return count, nil
}

// Stats returns the queue breakdown by status.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		switch models.DraftState(status) {
		case models.StateQueued:
			stats.Queued = count
		case models.StateApproved:
			stats.Approved = count
		case models.StateRejected:
			stats.Rejected = count
		case models.StateExported:
			stats.Exported = count
		case models.StateExpired:
			stats.Expired = count
		}
	}
	return stats, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

package drafts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/composer"
)

// Repository persists a snapshot of each edit session's working state so a
// console restart does not lose in-progress edits. Snapshots are upserted on
// every change and deleted when the session ends.
type Repository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewRepository(db *sql.DB, logger *logrus.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// EnsureSchema creates the draft table if it does not exist.
func (r *Repository) EnsureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS order_edit_drafts (
			session_id VARCHAR(255) PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL,
			state VARCHAR(50) NOT NULL,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_edit_drafts_order_id ON order_edit_drafts(order_id)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create draft schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) Save(sessionID string, snapshot composer.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal draft snapshot: %w", err)
	}

	query := `
		INSERT INTO order_edit_drafts (session_id, order_id, state, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET state = EXCLUDED.state, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(query, sessionID, snapshot.OrderID, snapshot.State, string(data), time.Now()); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (r *Repository) Get(sessionID string) (*composer.Snapshot, error) {
	var data string
	query := `SELECT snapshot FROM order_edit_drafts WHERE session_id = $1`
	if err := r.db.QueryRow(query, sessionID).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	var snapshot composer.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *Repository) Delete(sessionID string) error {
	if _, err := r.db.Exec(`DELETE FROM order_edit_drafts WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// Saver is the slice of the repository the session manager needs; a nil
// implementation is used when Postgres is not configured.
type Saver interface {
	Save(sessionID string, snapshot composer.Snapshot) error
	Delete(sessionID string) error
}

// NoopSaver drops snapshots when draft persistence is disabled.
type NoopSaver struct{}

func (NoopSaver) Save(string, composer.Snapshot) error { return nil }
func (NoopSaver) Delete(string) error                  { return nil }

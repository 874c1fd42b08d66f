package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workshop-deck/internal/db"
	"workshop-deck/internal/models"
)

// StructuredStore keeps progress, notes and workshop data in three SQLite
// tables
type StructuredStore struct {
	database *sql.DB
	now      func() time.Time
}

// NewStructuredStore wraps an initialized database
func NewStructuredStore(database *sql.DB) *StructuredStore {
	return &StructuredStore{
		database: database,
		now:      time.Now,
	}
}

// OpenStructuredStore returns an Opener that initializes the database at
// dbPath. onOpen, if set, receives the handle so other services can share it.
func OpenStructuredStore(dbPath string, onOpen func(*sql.DB)) Opener {
	return func(ctx context.Context) (Backend, error) {
		database, err := db.InitDatabase(dbPath)
		if err != nil {
			return nil, err
		}
		if onOpen != nil {
			onOpen(database)
		}
		return NewStructuredStore(database), nil
	}
}

// Name implements Backend
func (s *StructuredStore) Name() string { return "sqlite" }

// PutProgress implements Backend
func (s *StructuredStore) PutProgress(ctx context.Context, snapshot *models.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `INSERT INTO progress (id, data, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`
	if _, err := s.database.ExecContext(ctx, query, mainProgressID, string(data), snapshot.Timestamp); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// GetProgress implements Backend
func (s *StructuredStore) GetProgress(ctx context.Context) (*models.Snapshot, error) {
	var data string
	err := s.database.QueryRowContext(ctx, `SELECT data FROM progress WHERE id = ?`, mainProgressID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &snapshot, nil
}

func noteID(slideID int) string {
	return fmt.Sprintf("note-%d", slideID)
}

// PutNote implements Backend
func (s *StructuredStore) PutNote(ctx context.Context, slideID int, text string) error {
	query := `INSERT INTO notes (id, slide_id, content, timestamp) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, timestamp = excluded.timestamp`
	if _, err := s.database.ExecContext(ctx, query, noteID(slideID), slideID, text, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

// GetNote implements Backend
func (s *StructuredStore) GetNote(ctx context.Context, slideID int) (string, bool, error) {
	var content string
	err := s.database.QueryRowContext(ctx, `SELECT content FROM notes WHERE id = ?`, noteID(slideID)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query note: %w", err)
	}
	return content, true, nil
}

// PutWorkshopData implements Backend
func (s *StructuredStore) PutWorkshopData(ctx context.Context, id string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal workshop data: %w", err)
	}

	query := `INSERT INTO workshop_data (id, data, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`
	if _, err := s.database.ExecContext(ctx, query, id, string(encoded), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save workshop data: %w", err)
	}
	return nil
}

// GetWorkshopData implements Backend
func (s *StructuredStore) GetWorkshopData(ctx context.Context, id string) (any, bool, error) {
	var encoded string
	err := s.database.QueryRowContext(ctx, `SELECT data FROM workshop_data WHERE id = ?`, id).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query workshop data: %w", err)
	}

	var data any
	if err := json.Unmarshal([]byte(encoded), &data); err != nil {
		return nil, false, fmt.Errorf("failed to decode workshop data %q: %w", id, err)
	}
	return data, true, nil
}

// Clear implements Backend. All three tables are emptied in one transaction.
func (s *StructuredStore) Clear(ctx context.Context) error {
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"progress", "notes", "workshop_data"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *StructuredStore) Close() error {
	return s.database.Close()
}

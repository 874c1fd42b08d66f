// Package persistence stores presentation snapshots, participant notes and
// workshop data in a primary SQLite store, falling back to a flat key-value
// file when the primary cannot be opened.
package persistence

import (
	"context"
	"errors"

	"workshop-deck/internal/models"
)

// Backend is one storage tier. Getters return found=false (or a nil
// snapshot) when the key is absent.
type Backend interface {
	Name() string
	PutProgress(ctx context.Context, snapshot *models.Snapshot) error
	GetProgress(ctx context.Context) (*models.Snapshot, error)
	PutNote(ctx context.Context, slideID int, text string) error
	GetNote(ctx context.Context, slideID int) (string, bool, error)
	PutWorkshopData(ctx context.Context, id string, data any) error
	GetWorkshopData(ctx context.Context, id string) (any, bool, error)
	// Clear removes every progress, note and workshop record in one step.
	Clear(ctx context.Context) error
}

// ErrInvalidImport is returned by ImportData for malformed documents
var ErrInvalidImport = errors.New("invalid import data format")

// mainProgressID is the key of the one snapshot record per session
const mainProgressID = "main"

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

// Opener opens the primary backend
type Opener func(ctx context.Context) (Backend, error)

// Mode names the active tier
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModePrimary       Mode = "primary"
	ModeFallback      Mode = "fallback"
)

// DefaultNoteSlots is how many slide positions ExportData scans for notes
const DefaultNoteSlots = 40

// ExportOptions bounds the enumeration done by ExportData. Neither backend
// is asked to list its keys: notes are read for positions [0, NoteSlots)
// and workshop data for the ids in WorkshopIDs only.
type ExportOptions struct {
	NoteSlots   int
	WorkshopIDs []string
}

// Export is the document produced by ExportData
type Export struct {
	Progress     *models.Snapshot `json:"progress"`
	Notes        map[int]string   `json:"notes"`
	WorkshopData map[string]any   `json:"workshopData"`
	ExportedAt   string           `json:"exportedAt"`
}

// Gateway is the single entry point to durable storage. The tier is chosen
// once by Init and never revisited.
type Gateway struct {
	open     Opener
	fallback *KeyValueStore
	logger   *zap.Logger
	export   ExportOptions
	now      func() time.Time

	once    sync.Once
	backend Backend
	mode    atomic.Value // Mode, stored after backend
	opens   int
}

// NewGateway creates a gateway. open may be nil to run on the fallback only.
func NewGateway(open Opener, fallback *KeyValueStore, logger *zap.Logger, export ExportOptions) *Gateway {
	if export.NoteSlots <= 0 {
		export.NoteSlots = DefaultNoteSlots
	}
	return &Gateway{
		open:     open,
		fallback: fallback,
		logger:   logger.Named("persistence"),
		export:   export,
		now:      time.Now,
	}
}

// Init opens the primary store at most once per gateway. It never fails:
// an open error pins the gateway to the fallback store.
func (g *Gateway) Init(ctx context.Context) {
	g.once.Do(func() {
		if g.open == nil {
			g.backend = g.fallback
			g.mode.Store(ModeFallback)
			g.logger.Info("Primary store disabled, using fallback store")
			return
		}

		g.opens++
		backend, err := g.open(ctx)
		if err != nil {
			g.backend = g.fallback
			g.mode.Store(ModeFallback)
			g.logger.Warn("Primary store not available, falling back to key-value store", zap.Error(err))
			return
		}

		g.backend = backend
		g.mode.Store(ModePrimary)
		g.logger.Info("Primary store opened", zap.String("backend", backend.Name()))
	})
}

// Mode reports the active tier. It is safe to call while Init runs.
func (g *Gateway) Mode() Mode {
	if m, ok := g.mode.Load().(Mode); ok {
		return m
	}
	return ModeUninitialized
}

// Close releases the primary backend, if one was opened
func (g *Gateway) Close() error {
	if g.Mode() != ModePrimary {
		return nil
	}
	if closer, ok := g.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (g *Gateway) active(ctx context.Context) Backend {
	g.Init(ctx)
	return g.backend
}

// SaveProgress upserts the single snapshot record stamped with the save time.
// In primary mode a failed write is mirrored to the legacy fallback key.
func (g *Gateway) SaveProgress(ctx context.Context, snapshot models.Snapshot) error {
	backend := g.active(ctx)
	snapshot.Timestamp = g.now().UnixMilli()

	err := backend.PutProgress(ctx, &snapshot)
	if err == nil || g.Mode() != ModePrimary {
		return err
	}

	if legacyErr := g.fallback.PutProgress(ctx, &snapshot); legacyErr != nil {
		return errors.Join(err, fmt.Errorf("legacy progress write: %w", legacyErr))
	}
	return fmt.Errorf("primary progress write failed, saved to legacy key: %w", err)
}

// LoadProgress returns the stored snapshot, or nil when there is none. In
// primary mode an absent record falls back to the legacy key.
func (g *Gateway) LoadProgress(ctx context.Context) (*models.Snapshot, error) {
	backend := g.active(ctx)

	snapshot, err := backend.GetProgress(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot == nil && g.Mode() == ModePrimary {
		return g.fallback.GetProgress(ctx)
	}
	return snapshot, nil
}

// SaveNotes stores the note for a slide independently of the snapshot
func (g *Gateway) SaveNotes(ctx context.Context, slideID int, text string) error {
	return g.active(ctx).PutNote(ctx, slideID, text)
}

// LoadNotes returns the note for a slide
func (g *Gateway) LoadNotes(ctx context.Context, slideID int) (string, bool, error) {
	return g.active(ctx).GetNote(ctx, slideID)
}

// SaveWorkshopData stores an arbitrary JSON payload under id
func (g *Gateway) SaveWorkshopData(ctx context.Context, id string, data any) error {
	return g.active(ctx).PutWorkshopData(ctx, id, data)
}

// LoadWorkshopData returns the payload stored under id
func (g *Gateway) LoadWorkshopData(ctx context.Context, id string) (any, bool, error) {
	return g.active(ctx).GetWorkshopData(ctx, id)
}

// ClearAllData removes every collection of the active tier. In primary mode
// the legacy fallback keys are removed as well.
func (g *Gateway) ClearAllData(ctx context.Context) error {
	backend := g.active(ctx)

	if err := backend.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear %s store: %w", backend.Name(), err)
	}
	if g.Mode() == ModePrimary {
		if err := g.fallback.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear legacy keys: %w", err)
		}
	}
	return nil
}

// ClearLegacyProgress removes the fallback progress key only. Used as the
// last resort when ClearAllData fails.
func (g *Gateway) ClearLegacyProgress(ctx context.Context) error {
	return g.fallback.RemoveProgress()
}

// ExportData builds one JSON document of the snapshot, notes and workshop data
func (g *Gateway) ExportData(ctx context.Context) ([]byte, error) {
	progress, err := g.LoadProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("export progress: %w", err)
	}

	export := Export{
		Progress:     progress,
		Notes:        make(map[int]string),
		WorkshopData: make(map[string]any),
		ExportedAt:   g.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}

	for i := 0; i < g.export.NoteSlots; i++ {
		text, ok, err := g.LoadNotes(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("export note %d: %w", i, err)
		}
		if ok && text != "" {
			export.Notes[i] = text
		}
	}

	for _, id := range g.export.WorkshopIDs {
		data, ok, err := g.LoadWorkshopData(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export workshop data %q: %w", id, err)
		}
		if ok && data != nil {
			export.WorkshopData[id] = data
		}
	}

	return json.MarshalIndent(export, "", "  ")
}

// ImportData replays the saves described by an ExportData document
func (g *Gateway) ImportData(ctx context.Context, data []byte) error {
	var doc struct {
		Progress     *models.Snapshot `json:"progress"`
		Notes        map[int]string   `json:"notes"`
		WorkshopData map[string]any   `json:"workshopData"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	if doc.Progress != nil {
		if err := g.SaveProgress(ctx, *doc.Progress); err != nil {
			return fmt.Errorf("import progress: %w", err)
		}
	}
	for slideID, text := range doc.Notes {
		if err := g.SaveNotes(ctx, slideID, text); err != nil {
			return fmt.Errorf("import note %d: %w", slideID, err)
		}
	}
	for id, payload := range doc.WorkshopData {
		if err := g.SaveWorkshopData(ctx, id, payload); err != nil {
			return fmt.Errorf("import workshop data %q: %w", id, err)
		}
	}

	g.logger.Info("Imported data",
		zap.Bool("progress", doc.Progress != nil),
		zap.Int("notes", len(doc.Notes)),
		zap.Int("workshopData", len(doc.WorkshopData)))
	return nil
}

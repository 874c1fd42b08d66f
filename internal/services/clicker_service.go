package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

var (
	// ErrClickerNotFound is returned for MAC addresses with no registered clicker
	ErrClickerNotFound = errors.New("clicker not found")
	// ErrClickerInactive is returned when a disabled clicker is pressed
	ErrClickerInactive = errors.New("clicker is not active")
	// ErrInvalidMAC is returned for MAC addresses too short to derive an id from
	ErrInvalidMAC = errors.New("invalid MAC address")
)

// PressDirection is the action a clicker button maps to
type PressDirection string

const (
	PressNext     PressDirection = "next"
	PressPrevious PressDirection = "previous"
)

// Navigator moves through the deck
type Navigator interface {
	Next() bool
	Previous() bool
}

// PressResult describes what a clicker press did
type PressResult struct {
	Clicker    *models.Clicker `json:"clicker"`
	Registered bool            `json:"registered"`
	Moved      bool            `json:"moved"`
	SlideIndex int             `json:"slideIndex"`
}

// ClickerService manages hardware presenter remotes
type ClickerService struct {
	database  *sql.DB
	navigator Navigator
	logger    *zap.Logger
	now       func() time.Time
}

// NewClickerService creates a new clicker service
func NewClickerService(database *sql.DB, navigator Navigator, logger *zap.Logger) *ClickerService {
	return &ClickerService{
		database:  database,
		navigator: navigator,
		logger:    logger.Named("clickers"),
		now:       time.Now,
	}
}

// normalizeMAC uppercases and strips separators
func normalizeMAC(macAddress string) string {
	r := strings.NewReplacer(":", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(macAddress))
}

const clickerColumns = `id, mac_address, name, is_active, press_count, last_press, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClicker(row rowScanner) (*models.Clicker, error) {
	var c models.Clicker
	var lastPress sql.NullTime
	err := row.Scan(&c.ID, &c.MACAddress, &c.Name, &c.IsActive, &c.PressCount, &lastPress, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastPress.Valid {
		c.LastPress = lastPress.Time
	}
	return &c, nil
}

// Register adds a clicker. Registering a known MAC returns the existing record.
func (cs *ClickerService) Register(ctx context.Context, macAddress, name string) (*models.Clicker, error) {
	macAddress = normalizeMAC(macAddress)
	if len(macAddress) < 6 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, macAddress)
	}

	existing, err := cs.Get(ctx, macAddress)
	if err == nil {
		cs.logger.Debug("Clicker already registered", zap.String("mac", macAddress))
		return existing, nil
	}
	if !errors.Is(err, ErrClickerNotFound) {
		return nil, err
	}

	id := fmt.Sprintf("clk_%s", macAddress[len(macAddress)-6:])
	now := cs.now()
	_, err = cs.database.ExecContext(ctx, `INSERT INTO clickers
		(id, mac_address, name, is_active, press_count, created_at, updated_at)
		VALUES (?, ?, ?, 1, 0, ?, ?)`, id, macAddress, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert clicker: %w", err)
	}

	cs.logger.Info("Clicker registered", zap.String("mac", macAddress), zap.String("id", id))
	return cs.Get(ctx, macAddress)
}

// Get returns a clicker by MAC address
func (cs *ClickerService) Get(ctx context.Context, macAddress string) (*models.Clicker, error) {
	macAddress = normalizeMAC(macAddress)
	row := cs.database.QueryRowContext(ctx,
		`SELECT `+clickerColumns+` FROM clickers WHERE mac_address = ?`, macAddress)

	c, err := scanClicker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrClickerNotFound, macAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query clicker: %w", err)
	}
	return c, nil
}

// List returns every registered clicker, newest first
func (cs *ClickerService) List(ctx context.Context) ([]*models.Clicker, error) {
	rows, err := cs.database.QueryContext(ctx,
		`SELECT `+clickerColumns+` FROM clickers ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clickers: %w", err)
	}
	defer rows.Close()

	clickers := []*models.Clicker{}
	for rows.Next() {
		c, err := scanClicker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clicker: %w", err)
		}
		clickers = append(clickers, c)
	}
	return clickers, rows.Err()
}

// SetActive enables or disables a clicker
func (cs *ClickerService) SetActive(ctx context.Context, macAddress string, active bool) error {
	macAddress = normalizeMAC(macAddress)
	result, err := cs.database.ExecContext(ctx,
		`UPDATE clickers SET is_active = ?, updated_at = ? WHERE mac_address = ?`,
		active, cs.now(), macAddress)
	if err != nil {
		return fmt.Errorf("failed to update clicker: %w", err)
	}
	return cs.requireAffected(result, macAddress)
}

// Delete removes a clicker
func (cs *ClickerService) Delete(ctx context.Context, macAddress string) error {
	macAddress = normalizeMAC(macAddress)
	result, err := cs.database.ExecContext(ctx, `DELETE FROM clickers WHERE mac_address = ?`, macAddress)
	if err != nil {
		return fmt.Errorf("failed to delete clicker: %w", err)
	}
	if err := cs.requireAffected(result, macAddress); err != nil {
		return err
	}
	cs.logger.Info("Clicker deleted", zap.String("mac", macAddress))
	return nil
}

func (cs *ClickerService) requireAffected(result sql.Result, macAddress string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClickerNotFound, macAddress)
	}
	return nil
}

// recordPress bumps the press counter of an active clicker
func (cs *ClickerService) recordPress(ctx context.Context, macAddress string) (*models.Clicker, error) {
	c, err := cs.Get(ctx, macAddress)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrClickerInactive, c.MACAddress)
	}

	now := cs.now()
	_, err = cs.database.ExecContext(ctx, `UPDATE clickers
		SET press_count = press_count + 1, last_press = ?, updated_at = ?
		WHERE mac_address = ?`, now, now, c.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to update clicker press: %w", err)
	}

	c.PressCount++
	c.LastPress = now
	c.UpdatedAt = now
	return c, nil
}

// Press records a press and moves the deck. Unknown clickers are registered
// on their first press.
func (cs *ClickerService) Press(ctx context.Context, macAddress string, direction PressDirection) (*PressResult, error) {
	result := &PressResult{}

	c, err := cs.recordPress(ctx, macAddress)
	if errors.Is(err, ErrClickerNotFound) {
		cs.logger.Info("Unknown clicker, auto-registering", zap.String("mac", normalizeMAC(macAddress)))
		if _, err := cs.Register(ctx, macAddress, ""); err != nil {
			return nil, fmt.Errorf("auto-registration failed: %w", err)
		}
		result.Registered = true
		c, err = cs.recordPress(ctx, macAddress)
	}
	if err != nil {
		return nil, err
	}
	result.Clicker = c

	switch direction {
	case PressPrevious:
		result.Moved = cs.navigator.Previous()
	default:
		result.Moved = cs.navigator.Next()
	}
	if idx, ok := cs.navigator.(interface{ CurrentSlideIndex() int }); ok {
		result.SlideIndex = idx.CurrentSlideIndex()
	}

	cs.logger.Debug("Clicker press",
		zap.String("mac", c.MACAddress),
		zap.String("direction", string(direction)),
		zap.Bool("moved", result.Moved),
		zap.Int("pressCount", c.PressCount))
	return result, nil
}

package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAutosaveInterval is how often the store is saved without user action
const DefaultAutosaveInterval = 30 * time.Second

// Saver is anything that can queue a save of its current state
type Saver interface {
	Save()
}

// Autosaver periodically calls Save on a ticker
type Autosaver struct {
	target   Saver
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewAutosaver creates a stopped autosaver
func NewAutosaver(target Saver, interval time.Duration, logger *zap.Logger) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &Autosaver{
		target:   target,
		interval: interval,
		logger:   logger.Named("autosave"),
	}
}

// Start begins ticking. Calling Start on a running autosaver does nothing.
func (a *Autosaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)

	a.logger.Info("Autosave started", zap.Duration("interval", a.interval))
}

// Stop halts ticking and waits for the goroutine to exit
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop == nil {
		return
	}
	close(a.stop)
	<-a.done
	a.stop, a.done = nil, nil

	a.logger.Info("Autosave stopped")
}

func (a *Autosaver) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.target.Save()
		case <-stop:
			return
		}
	}
}

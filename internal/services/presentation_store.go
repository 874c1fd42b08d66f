package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

// ErrNotRegistered is returned for code window and element ids the deck
// does not declare
var ErrNotRegistered = errors.New("id not registered")

// maxNavigationHistory caps the back-stack of visited indices
const maxNavigationHistory = 10

// SnapshotSaver accepts snapshots for asynchronous, serialized writing
type SnapshotSaver interface {
	Submit(snapshot models.Snapshot)
	DiscardPending()
	Flush()
}

// Persister is the part of the persistence gateway the store talks to directly
type Persister interface {
	LoadProgress(ctx context.Context) (*models.Snapshot, error)
	SaveNotes(ctx context.Context, slideID int, text string) error
	ClearAllData(ctx context.Context) error
	ClearLegacyProgress(ctx context.Context) error
}

// Notifier is told about every state change
type Notifier interface {
	Broadcast(event string, payload any)
}

// EngagementRecorder is told about slide visits and participant interactions
type EngagementRecorder interface {
	SlideVisited(slide models.Slide)
	Interacted(slideID int, completed bool)
	Reset()
}

// Events sent to the Notifier
const (
	EventState = "state"
	EventReset = "reset"
)

// PresentationView is a read-only summary of the store for clients
type PresentationView struct {
	CurrentSlideIndex   int                           `json:"currentSlideIndex"`
	TotalSlides         int                           `json:"totalSlides"`
	CurrentSlide        *models.Slide                 `json:"currentSlide,omitempty"`
	OverallProgress     int                           `json:"overallProgress"`
	CompletedActivities []string                      `json:"completedActivities"`
	Bookmarks           []int                         `json:"bookmarks"`
	NavigationHistory   []int                         `json:"navigationHistory"`
	SlideProgress       map[int]*models.SlideProgress `json:"slideProgress"`
}

// PresentationStore is the single source of truth for where the participant
// is in the deck and what they have done. It is owned by the application root.
type PresentationStore struct {
	mu sync.RWMutex

	slides            []models.Slide
	currentSlideIndex int
	enteredAt         time.Time

	completedActivities map[string]struct{}
	workshopResults     map[string]any
	participantNotes    map[int]string
	codeWindows         map[string]*models.CodeWindowState
	interactiveElements map[string]*models.InteractiveElementState
	navigationHistory   []int
	bookmarks           map[int]struct{}
	slideProgress       map[int]*models.SlideProgress
	overallProgress     int

	saver     SnapshotSaver
	persister Persister
	notifier  Notifier
	recorder  EngagementRecorder
	autosave  *Autosaver
	logger    *zap.Logger
	now       func() time.Time
}

// StoreOption configures a PresentationStore
type StoreOption func(*PresentationStore)

// WithNotifier sets the listener told about state changes
func WithNotifier(n Notifier) StoreOption {
	return func(s *PresentationStore) { s.notifier = n }
}

// WithEngagement sets the recorder told about visits and interactions
func WithEngagement(r EngagementRecorder) StoreOption {
	return func(s *PresentationStore) { s.recorder = r }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *PresentationStore) { s.now = now }
}

// NewPresentationStore creates an empty store
func NewPresentationStore(saver SnapshotSaver, persister Persister, logger *zap.Logger, opts ...StoreOption) *PresentationStore {
	s := &PresentationStore{
		saver:     saver,
		persister: persister,
		logger:    logger.Named("presentation"),
		now:       time.Now,
	}
	s.clearSession()
	s.codeWindows = make(map[string]*models.CodeWindowState)
	s.interactiveElements = make(map[string]*models.InteractiveElementState)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clearSession resets everything Reset clears. Must be called with lock held.
func (s *PresentationStore) clearSession() {
	s.currentSlideIndex = 0
	s.completedActivities = make(map[string]struct{})
	s.workshopResults = make(map[string]any)
	s.participantNotes = make(map[int]string)
	s.navigationHistory = nil
	s.bookmarks = make(map[int]struct{})
	s.slideProgress = make(map[int]*models.SlideProgress)
	s.overallProgress = 0
}

// Initialize replaces the slide list and registers default state for every
// code window and every interactive element that has an id. It does not persist.
func (s *PresentationStore) Initialize(slides []models.Slide) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slides = slides
	s.enteredAt = s.now()
	s.codeWindows = make(map[string]*models.CodeWindowState)
	s.interactiveElements = make(map[string]*models.InteractiveElementState)

	for _, slide := range slides {
		for _, w := range slide.CodeWindows {
			s.codeWindows[w.ID] = &models.CodeWindowState{Code: w.InitialCode}
		}
		for _, el := range slide.InteractiveElements {
			if el.ID == "" {
				continue
			}
			s.interactiveElements[el.ID] = &models.InteractiveElementState{
				Data:        make(map[string]any),
				LastUpdated: s.now(),
			}
		}
	}

	s.logger.Info("Slides initialized",
		zap.Int("slides", len(slides)),
		zap.Int("codeWindows", len(s.codeWindows)),
		zap.Int("interactiveElements", len(s.interactiveElements)))
}

// Slides returns the slide list
func (s *PresentationStore) Slides() []models.Slide {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slides
}

// CurrentSlide returns the slide at the current index, or false when the
// deck is empty
func (s *PresentationStore) CurrentSlide() (models.Slide, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSlideLocked()
}

func (s *PresentationStore) currentSlideLocked() (models.Slide, bool) {
	if s.currentSlideIndex < 0 || s.currentSlideIndex >= len(s.slides) {
		return models.Slide{}, false
	}
	return s.slides[s.currentSlideIndex], true
}

// CurrentSlideIndex returns the current position
func (s *PresentationStore) CurrentSlideIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSlideIndex
}

// NavigateTo moves to index and submits a save. Out-of-range indices are
// ignored and reported as false.
func (s *PresentationStore) NavigateTo(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.slides) {
		s.mu.Unlock()
		return false
	}

	now := s.now()
	if prev, ok := s.slideProgress[s.currentSlideIndex]; ok && !s.enteredAt.IsZero() {
		prev.TimeSpent += int64(now.Sub(s.enteredAt) / time.Second)
	}

	s.navigationHistory = append(s.navigationHistory, s.currentSlideIndex)
	if len(s.navigationHistory) > maxNavigationHistory {
		s.navigationHistory = s.navigationHistory[len(s.navigationHistory)-maxNavigationHistory:]
	}
	s.currentSlideIndex = index
	s.enteredAt = now

	progress := s.progressLocked(index)
	progress.Visited = true

	s.saver.Submit(s.snapshotLocked())
	view := s.viewLocked()
	slide := s.slides[index]
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.SlideVisited(slide)
	}
	s.notify(EventState, view)
	return true
}

// Next moves one slide forward, doing nothing on the last slide
func (s *PresentationStore) Next() bool {
	s.mu.RLock()
	next := s.currentSlideIndex + 1
	ok := next < len(s.slides)
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.NavigateTo(next)
}

// Previous moves one slide back, doing nothing on the first slide
func (s *PresentationStore) Previous() bool {
	s.mu.RLock()
	prev := s.currentSlideIndex - 1
	s.mu.RUnlock()
	if prev < 0 {
		return false
	}
	return s.NavigateTo(prev)
}

// progressLocked returns the record at key, creating it on first use with the
// slide's requires_completion flag. Must be called with lock held.
func (s *PresentationStore) progressLocked(key int) *models.SlideProgress {
	if p, ok := s.slideProgress[key]; ok {
		return p
	}
	p := &models.SlideProgress{ActivitiesCompleted: []string{}}
	if key >= 0 && key < len(s.slides) {
		p.RequiredCompletion = s.slides[key].RequiresCompletion
	}
	s.slideProgress[key] = p
	return p
}

// CompleteActivity records activityID (once) against the current slide,
// stores result when given and recomputes overall progress
func (s *PresentationStore) CompleteActivity(activityID string, result any) {
	s.mu.Lock()
	s.completedActivities[activityID] = struct{}{}
	if result != nil {
		s.workshopResults[activityID] = result
	}

	progress := s.progressLocked(s.currentSlideIndex)
	progress.Visited = true
	if !progress.HasActivity(activityID) {
		progress.ActivitiesCompleted = append(progress.ActivitiesCompleted, activityID)
	}

	s.updateOverallProgressLocked()
	view := s.viewLocked()
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	s.logger.Debug("Activity completed", zap.String("activityId", activityID), zap.Int("overallProgress", view.OverallProgress))
	if onSlide {
		s.interacted(slide.ID, true)
	}
	s.notify(EventState, view)
}

// updateOverallProgressLocked recomputes overall progress over required
// slides. Must be called with lock held.
func (s *PresentationStore) updateOverallProgressLocked() {
	required, completed := 0, 0
	for _, slide := range s.slides {
		if !slide.RequiresCompletion {
			continue
		}
		required++
		if p, ok := s.slideProgress[models.ProgressKey(slide.ID)]; ok && len(p.ActivitiesCompleted) > 0 {
			completed++
		}
	}

	if required == 0 {
		s.overallProgress = 0
		return
	}
	s.overallProgress = int(math.Round(100 * float64(completed) / float64(required)))
}

// OverallProgress returns the completion percentage of required slides
func (s *PresentationStore) OverallProgress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overallProgress
}

// SlideProgress returns a copy of the progress record under key
func (s *PresentationStore) SlideProgress(key int) (models.SlideProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.slideProgress[key]
	if !ok {
		return models.SlideProgress{}, false
	}
	cp := *p
	cp.ActivitiesCompleted = append([]string(nil), p.ActivitiesCompleted...)
	return cp, true
}

// UpdateCodeWindow replaces the code of a registered code window
func (s *PresentationStore) UpdateCodeWindow(id, code string) error {
	s.mu.Lock()
	state, ok := s.codeWindows[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("code window %q: %w", id, ErrNotRegistered)
	}
	now := s.now()
	updated := *state
	updated.Code = code
	updated.LastExecuted = &now
	s.codeWindows[id] = &updated
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	if onSlide {
		s.interacted(slide.ID, false)
	}
	return nil
}

// CodeWindow returns the state of a code window
func (s *PresentationStore) CodeWindow(id string) (models.CodeWindowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.codeWindows[id]
	if !ok {
		return models.CodeWindowState{}, false
	}
	return *state, true
}

// UpdateInteractiveElement shallow-merges data into a registered element
func (s *PresentationStore) UpdateInteractiveElement(id string, data map[string]any) error {
	s.mu.Lock()
	state, ok := s.interactiveElements[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("interactive element %q: %w", id, ErrNotRegistered)
	}
	merged := make(map[string]any, len(state.Data)+len(data))
	for k, v := range state.Data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	s.interactiveElements[id] = &models.InteractiveElementState{
		Completed:   state.Completed,
		Data:        merged,
		LastUpdated: s.now(),
	}
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	if onSlide {
		s.interacted(slide.ID, false)
	}
	return nil
}

// InteractiveElement returns the state of an interactive element
func (s *PresentationStore) InteractiveElement(id string) (models.InteractiveElementState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.interactiveElements[id]
	if !ok {
		return models.InteractiveElementState{}, false
	}
	return *state, true
}

// AddParticipantNote overwrites the note of slideID, persists it on its own
// and submits a snapshot save. Persistence errors are logged only.
func (s *PresentationStore) AddParticipantNote(ctx context.Context, slideID int, text string) {
	s.mu.Lock()
	s.participantNotes[slideID] = text
	progress := s.progressLocked(models.ProgressKey(slideID))
	progress.NotesAdded = true

	// Written under the lock so a concurrent Reset cannot clear before it lands.
	if err := s.persister.SaveNotes(ctx, slideID, text); err != nil {
		s.logger.Error("Failed to save notes", zap.Int("slideId", slideID), zap.Error(err))
	}
	s.saver.Submit(s.snapshotLocked())
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(EventState, view)
}

// ParticipantNote returns the in-memory note for slideID
func (s *PresentationStore) ParticipantNote(slideID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.participantNotes[slideID]
	return text, ok
}

// ToggleBookmark flips membership of slideID and returns the new state
func (s *PresentationStore) ToggleBookmark(slideID int) bool {
	s.mu.Lock()
	_, marked := s.bookmarks[slideID]
	if marked {
		delete(s.bookmarks, slideID)
	} else {
		s.bookmarks[slideID] = struct{}{}
	}
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(EventState, view)
	return !marked
}

// Reset returns the session to a fresh start and clears durable state.
// If the full clear fails the legacy progress key is still removed.
//
// Every submission happens under s.mu, so holding it across the discard and
// the clear guarantees no pre-reset snapshot is written afterwards.
func (s *PresentationStore) Reset(ctx context.Context) {
	s.mu.Lock()
	s.clearSession()
	s.enteredAt = s.now()

	s.saver.DiscardPending()
	if err := s.persister.ClearAllData(ctx); err != nil {
		s.logger.Error("Failed to clear persisted data, clearing legacy progress key", zap.Error(err))
		if err := s.persister.ClearLegacyProgress(ctx); err != nil {
			s.logger.Error("Failed to clear legacy progress key", zap.Error(err))
		}
	}
	view := s.viewLocked()
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Reset()
		if onSlide {
			s.recorder.SlideVisited(slide)
		}
	}
	s.logger.Info("Presentation reset")
	s.notify(EventReset, view)
}

// Save submits the current snapshot to the save queue
func (s *PresentationStore) Save() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.saver.Submit(s.snapshotLocked())
}

// Import replaces durable state with load and reloads the session from it.
// Pending saves are written first and no new ones can be queued until the
// reload is done, so an autosave cannot overwrite the imported progress.
func (s *PresentationStore) Import(ctx context.Context, load func(context.Context) error) error {
	s.mu.Lock()
	s.saver.Flush()
	if err := load(ctx); err != nil {
		s.mu.Unlock()
		return err
	}

	snapshot, err := s.persister.LoadProgress(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reload imported progress: %w", err)
	}
	if snapshot != nil {
		s.applyLocked(snapshot)
	}
	view := s.viewLocked()
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	if onSlide && s.recorder != nil {
		s.recorder.SlideVisited(slide)
	}

	s.logger.Info("Progress imported", zap.Bool("progress", snapshot != nil))
	s.notify(EventState, view)
	return nil
}

// Restore loads the persisted snapshot once at startup. An index that does
// not fit the live deck is replaced by 0 with a warning. Returns whether a
// snapshot was applied. Either way the starting slide counts as visited.
func (s *PresentationStore) Restore(ctx context.Context) bool {
	snapshot, err := s.persister.LoadProgress(ctx)
	if err != nil {
		s.logger.Error("Failed to load progress", zap.Error(err))
		s.visitCurrent()
		return false
	}
	if snapshot == nil {
		s.visitCurrent()
		return false
	}

	s.mu.Lock()
	index := s.applyLocked(snapshot)
	slide, onSlide := s.currentSlideLocked()
	s.mu.Unlock()

	if onSlide && s.recorder != nil {
		s.recorder.SlideVisited(slide)
	}

	s.logger.Info("Progress loaded",
		zap.Int("savedSlideIndex", snapshot.CurrentSlideIndex),
		zap.Int("validatedSlideIndex", index),
		zap.Int("totalSlides", len(s.slides)),
		zap.String("slideTitle", slide.Title))
	return true
}

// applyLocked replaces session state with snapshot and returns the index
// actually used. Must be called with lock held.
func (s *PresentationStore) applyLocked(snapshot *models.Snapshot) int {
	index := snapshot.CurrentSlideIndex
	if index < 0 || index >= len(s.slides) {
		s.logger.Warn("Invalid slide index in saved progress, defaulting to 0",
			zap.Int("savedSlideIndex", index),
			zap.Int("totalSlides", len(s.slides)))
		index = 0
	}

	s.currentSlideIndex = index
	s.enteredAt = s.now()
	s.completedActivities = make(map[string]struct{}, len(snapshot.CompletedActivities))
	for _, id := range snapshot.CompletedActivities {
		s.completedActivities[id] = struct{}{}
	}
	s.workshopResults = copyOrEmpty(snapshot.WorkshopResults)
	s.participantNotes = copyOrEmpty(snapshot.ParticipantNotes)
	s.slideProgress = copyOrEmpty(snapshot.SlideProgress)
	for _, p := range s.slideProgress {
		if p.ActivitiesCompleted == nil {
			p.ActivitiesCompleted = []string{}
		}
	}
	// Only ids registered by Initialize are restored.
	for id, state := range snapshot.CodeWindows {
		if _, ok := s.codeWindows[id]; ok && state != nil {
			s.codeWindows[id] = state
		}
	}
	for id, state := range snapshot.InteractiveElements {
		if _, ok := s.interactiveElements[id]; ok && state != nil {
			if state.Data == nil {
				state.Data = make(map[string]any)
			}
			s.interactiveElements[id] = state
		}
	}
	s.bookmarks = make(map[int]struct{}, len(snapshot.Bookmarks))
	for _, id := range snapshot.Bookmarks {
		s.bookmarks[id] = struct{}{}
	}
	s.navigationHistory = nil
	s.updateOverallProgressLocked()
	return index
}

// AttachAutosave ties an autosaver to the store's lifecycle
func (s *PresentationStore) AttachAutosave(a *Autosaver) {
	s.autosave = a
}

// SaveAndWait submits the current snapshot and waits until it is written
func (s *PresentationStore) SaveAndWait() {
	s.Save()
	s.saver.Flush()
}

// Teardown stops autosave, queues a final save and waits for it
func (s *PresentationStore) Teardown() {
	if s.autosave != nil {
		s.autosave.Stop()
	}
	s.SaveAndWait()
}

// Snapshot returns a persistable copy of the session state
func (s *PresentationStore) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked copies state so the save queue never shares maps with the
// store. Must be called with lock held.
func (s *PresentationStore) snapshotLocked() models.Snapshot {
	progress := make(map[int]*models.SlideProgress, len(s.slideProgress))
	for k, p := range s.slideProgress {
		cp := *p
		cp.ActivitiesCompleted = append([]string{}, p.ActivitiesCompleted...)
		progress[k] = &cp
	}
	windows := make(map[string]*models.CodeWindowState, len(s.codeWindows))
	for k, w := range s.codeWindows {
		cp := *w
		windows[k] = &cp
	}
	elements := make(map[string]*models.InteractiveElementState, len(s.interactiveElements))
	for k, e := range s.interactiveElements {
		cp := *e
		cp.Data = copyOrEmpty(e.Data)
		elements[k] = &cp
	}

	return models.Snapshot{
		CurrentSlideIndex:   s.currentSlideIndex,
		CompletedActivities: sortedKeys(s.completedActivities),
		WorkshopResults:     copyOrEmpty(s.workshopResults),
		ParticipantNotes:    copyOrEmpty(s.participantNotes),
		SlideProgress:       progress,
		CodeWindows:         windows,
		InteractiveElements: elements,
		Bookmarks:           sortedInts(s.bookmarks),
	}
}

// View returns a client-facing summary
func (s *PresentationStore) View() PresentationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *PresentationStore) viewLocked() PresentationView {
	view := PresentationView{
		CurrentSlideIndex:   s.currentSlideIndex,
		TotalSlides:         len(s.slides),
		OverallProgress:     s.overallProgress,
		CompletedActivities: sortedKeys(s.completedActivities),
		Bookmarks:           sortedInts(s.bookmarks),
		NavigationHistory:   append([]int{}, s.navigationHistory...),
		SlideProgress:       make(map[int]*models.SlideProgress, len(s.slideProgress)),
	}
	if slide, ok := s.currentSlideLocked(); ok {
		view.CurrentSlide = &slide
	}
	for k, p := range s.slideProgress {
		cp := *p
		cp.ActivitiesCompleted = append([]string{}, p.ActivitiesCompleted...)
		view.SlideProgress[k] = &cp
	}
	return view
}

func (s *PresentationStore) visitCurrent() {
	if s.recorder == nil {
		return
	}
	if slide, ok := s.CurrentSlide(); ok {
		s.recorder.SlideVisited(slide)
	}
}

func (s *PresentationStore) interacted(slideID int, completed bool) {
	if s.recorder != nil {
		s.recorder.Interacted(slideID, completed)
	}
}

func (s *PresentationStore) notify(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

func copyOrEmpty[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedInts(set map[int]struct{}) []int {
	ints := make([]int, 0, len(set))
	for k := range set {
		ints = append(ints, k)
	}
	sort.Ints(ints)
	return ints
}

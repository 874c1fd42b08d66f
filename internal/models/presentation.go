package models

import "time"

// SlideType is the closed set of slide categories
type SlideType string

const (
	SlideTypeTitle    SlideType = "title"
	SlideTypeContent  SlideType = "content"
	SlideTypeQA       SlideType = "qa"
	SlideTypeWorkshop SlideType = "workshop"
)

// Valid reports whether t is one of the known slide types
func (t SlideType) Valid() bool {
	switch t {
	case SlideTypeTitle, SlideTypeContent, SlideTypeQA, SlideTypeWorkshop:
		return true
	}
	return false
}

// SlideContent holds the display text of a slide
type SlideContent struct {
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Goal         string   `json:"goal,omitempty" yaml:"goal,omitempty"`
	Points       []string `json:"points,omitempty" yaml:"points,omitempty"`
	Instructions []string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	KeyPoints    []string `json:"key_points,omitempty" yaml:"key_points,omitempty"`
	Takeaways    []string `json:"takeaways,omitempty" yaml:"takeaways,omitempty"`
}

// InteractiveElement describes a widget on a slide (poll, checklist, timer...)
type InteractiveElement struct {
	Type   string         `json:"type" yaml:"type"`
	ID     string         `json:"id" yaml:"id"`
	Title  string         `json:"title" yaml:"title"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// CodeWindow describes an editable code panel on a slide
type CodeWindow struct {
	ID          string `json:"id" yaml:"id"`
	Language    string `json:"language" yaml:"language"`
	InitialCode string `json:"initial_code,omitempty" yaml:"initial_code,omitempty"`
	ReadOnly    bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
}

// Slide is one immutable unit of the deck. IDs are 1-based display numbers.
type Slide struct {
	ID                  int                  `json:"id" yaml:"id"`
	Type                SlideType            `json:"type" yaml:"type"`
	Title               string               `json:"title" yaml:"title"`
	Subtitle            string               `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Content             SlideContent         `json:"content" yaml:"content"`
	TimerMinutes        int                  `json:"timer_minutes,omitempty" yaml:"timer_minutes,omitempty"`
	RequiresCompletion  bool                 `json:"requires_completion,omitempty" yaml:"requires_completion,omitempty"`
	InteractiveElements []InteractiveElement `json:"interactive_elements,omitempty" yaml:"interactive_elements,omitempty"`
	CodeWindows         []CodeWindow         `json:"code_windows,omitempty" yaml:"code_windows,omitempty"`
}

// ProgressKey converts a 1-based slide id into the 0-based key that
// progress records are stored under. Navigation creates records keyed by
// array index, so every id-based lookup must go through here.
func ProgressKey(slideID int) int {
	return slideID - 1
}

// SlideProgress tracks what the participant did on one slide
type SlideProgress struct {
	Visited             bool     `json:"visited"`
	TimeSpent           int64    `json:"timeSpent"` // seconds
	ActivitiesCompleted []string `json:"activitiesCompleted"`
	NotesAdded          bool     `json:"notesAdded"`
	RequiredCompletion  bool     `json:"requiredCompletion"`
}

// HasActivity reports whether id was already recorded
func (p *SlideProgress) HasActivity(id string) bool {
	for _, a := range p.ActivitiesCompleted {
		if a == id {
			return true
		}
	}
	return false
}

// CodeWindowState is the live content of a code window
type CodeWindowState struct {
	Code         string     `json:"code"`
	Output       string     `json:"output,omitempty"`
	IsExecuting  bool       `json:"isExecuting"`
	LastExecuted *time.Time `json:"lastExecuted,omitempty"`
}

// InteractiveElementState is the live state of an interactive element
type InteractiveElementState struct {
	Completed   bool           `json:"completed"`
	Data        map[string]any `json:"data"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// Snapshot is the single persisted record of a session
type Snapshot struct {
	CurrentSlideIndex   int                                 `json:"currentSlideIndex"`
	CompletedActivities []string                            `json:"completedActivities"`
	WorkshopResults     map[string]any                      `json:"workshopResults"`
	ParticipantNotes    map[int]string                      `json:"participantNotes"`
	SlideProgress       map[int]*SlideProgress              `json:"slideProgress"`
	CodeWindows         map[string]*CodeWindowState         `json:"codeWindows"`
	InteractiveElements map[string]*InteractiveElementState `json:"interactiveElements"`
	Bookmarks           []int                               `json:"bookmarks"`
	Timestamp           int64                               `json:"timestamp"` // unix millis of the save
}

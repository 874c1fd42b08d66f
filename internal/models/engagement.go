package models

import "time"

// PromptTrigger names the rule that raised a proactive prompt
type PromptTrigger string

const (
	TriggerTimeThreshold PromptTrigger = "time_threshold"
	TriggerNoInteraction PromptTrigger = "no_interaction"
	TriggerWorkshopStart PromptTrigger = "workshop_start"
)

// ProactivePrompt is an unsolicited offer of help for one slide
type ProactivePrompt struct {
	ID         string        `json:"id"`
	SlideID    int           `json:"slideId"`
	Trigger    PromptTrigger `json:"trigger"`
	Message    string        `json:"message"`
	ActionText string        `json:"actionText,omitempty"`
	Dismissed  bool          `json:"dismissed"`
}

// QuickActionCategory groups quick actions in the assistant panel
type QuickActionCategory string

const (
	QuickActionClarify  QuickActionCategory = "clarify"
	QuickActionExample  QuickActionCategory = "example"
	QuickActionWorkshop QuickActionCategory = "workshop"
	QuickActionConcept  QuickActionCategory = "concept"
)

// QuickAction is a canned assistant question offered for the current slide
type QuickAction struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Prompt   string              `json:"prompt"`
	Emoji    string              `json:"emoji,omitempty"`
	Category QuickActionCategory `json:"category"`
}

// SlideActivity is what the participant did on one slide, as seen by the
// assistant
type SlideActivity struct {
	SlideID          int       `json:"slideId"`
	TimeSpent        int64     `json:"timeSpent"` // seconds
	LastVisited      time.Time `json:"lastVisited"`
	InteractionCount int       `json:"interactionCount"`
	HelpRequested    bool      `json:"helpRequested"`
	Completed        bool      `json:"completed"`
}

// EngagementMetrics summarizes activity over every visited slide
type EngagementMetrics struct {
	SlidesVisited       int     `json:"slidesVisited"`
	TotalTimeSpent      int64   `json:"totalTimeSpent"`      // seconds
	AverageTimePerSlide float64 `json:"averageTimePerSlide"` // seconds
	HelpRequests        int     `json:"helpRequests"`
	HelpRequestRate     float64 `json:"helpRequestRate"`
	CompletionRate      float64 `json:"completionRate"`
}

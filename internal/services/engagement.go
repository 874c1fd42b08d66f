package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"workshop-deck/internal/models"
)

const (
	helpPromptAfter = 2 * time.Minute
	quickSkipBefore = 30 * time.Second
)

type slideActivity struct {
	slideType    models.SlideType
	timeSpent    time.Duration
	lastVisited  time.Time
	interactions int
	helpAsked    bool
	completed    bool
}

// EngagementTracker follows which slides the participant visits, how long
// they stay and how much they interact, and raises proactive help prompts
// from that. It is fed by the presentation store.
type EngagementTracker struct {
	mu sync.Mutex

	activities   map[int]*slideActivity
	current      int // slide id, 0 before the first visit
	enteredAt    time.Time
	helpRequests int

	prompts     map[string]*models.ProactivePrompt
	promptOrder []string

	logger *zap.Logger
	now    func() time.Time
}

// NewEngagementTracker creates an empty tracker
func NewEngagementTracker(logger *zap.Logger) *EngagementTracker {
	t := &EngagementTracker{
		logger: logger.Named("engagement"),
		now:    time.Now,
	}
	t.clear()
	return t
}

func (t *EngagementTracker) clear() {
	t.activities = make(map[int]*slideActivity)
	t.current = 0
	t.enteredAt = time.Time{}
	t.helpRequests = 0
	t.prompts = make(map[string]*models.ProactivePrompt)
	t.promptOrder = nil
}

// SlideVisited closes the time on the previous slide and starts the clock on
// slide. Repeated calls for the current slide are ignored.
func (t *EngagementTracker) SlideVisited(slide models.Slide) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slide.ID == t.current {
		return
	}
	now := t.now()
	if prev, ok := t.activities[t.current]; ok && !t.enteredAt.IsZero() {
		prev.timeSpent += now.Sub(t.enteredAt)
	}

	a, ok := t.activities[slide.ID]
	if !ok {
		a = &slideActivity{}
		t.activities[slide.ID] = a
	}
	a.slideType = slide.Type
	a.lastVisited = now
	t.current = slide.ID
	t.enteredAt = now
}

// Interacted counts an interaction on slideID and marks the slide completed
// when the interaction finished an activity
func (t *EngagementTracker) Interacted(slideID int, completed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.activities[slideID]
	if !ok {
		return
	}
	a.interactions++
	if completed {
		a.completed = true
	}
}

// MarkHelpRequested records that the participant asked the assistant for help
func (t *EngagementTracker) MarkHelpRequested(slideID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.activities[slideID]
	if !ok {
		return
	}
	a.helpAsked = true
	t.helpRequests++
}

// Reset forgets every activity and prompt
func (t *EngagementTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clear()
}

// Activity returns what is known about slideID
func (t *EngagementTracker) Activity(slideID int) (models.SlideActivity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.activities[slideID]
	if !ok {
		return models.SlideActivity{}, false
	}
	return models.SlideActivity{
		SlideID:          slideID,
		TimeSpent:        int64(t.elapsedLocked(slideID) / time.Second),
		LastVisited:      a.lastVisited,
		InteractionCount: a.interactions,
		HelpRequested:    a.helpAsked,
		Completed:        a.completed,
	}, true
}

// elapsedLocked includes the running time on the current slide
func (t *EngagementTracker) elapsedLocked(slideID int) time.Duration {
	a := t.activities[slideID]
	d := a.timeSpent
	if slideID == t.current && !t.enteredAt.IsZero() {
		d += t.now().Sub(t.enteredAt)
	}
	return d
}

// Prompts evaluates the prompt rules for slideID and returns every prompt
// for it that has not been dismissed. A prompt raised once stays raised.
func (t *EngagementTracker) Prompts(slideID int) []models.ProactivePrompt {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.activities[slideID]; ok {
		for _, p := range promptRules(slideID, a, t.elapsedLocked(slideID)) {
			if _, seen := t.prompts[p.ID]; seen {
				continue
			}
			t.prompts[p.ID] = &p
			t.promptOrder = append(t.promptOrder, p.ID)
			t.logger.Debug("Proactive prompt raised", zap.String("id", p.ID), zap.String("trigger", string(p.Trigger)))
		}
	}

	out := []models.ProactivePrompt{}
	for _, id := range t.promptOrder {
		p := t.prompts[id]
		if p.SlideID == slideID && !p.Dismissed {
			out = append(out, *p)
		}
	}
	return out
}

// DismissPrompt hides a prompt for good. Unknown ids report false.
func (t *EngagementTracker) DismissPrompt(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.prompts[id]
	if !ok {
		return false
	}
	p.Dismissed = true
	return true
}

// Metrics summarizes every visited slide
func (t *EngagementTracker) Metrics() models.EngagementMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := models.EngagementMetrics{
		SlidesVisited: len(t.activities),
		HelpRequests:  t.helpRequests,
	}
	if m.SlidesVisited == 0 {
		return m
	}

	var total time.Duration
	completed := 0
	for id, a := range t.activities {
		total += t.elapsedLocked(id)
		if a.completed {
			completed++
		}
	}
	n := float64(m.SlidesVisited)
	m.TotalTimeSpent = int64(total / time.Second)
	m.AverageTimePerSlide = total.Seconds() / n
	m.HelpRequestRate = float64(t.helpRequests) / n
	m.CompletionRate = float64(completed) / n
	return m
}

func promptRules(slideID int, a *slideActivity, spent time.Duration) []models.ProactivePrompt {
	var prompts []models.ProactivePrompt

	if spent > helpPromptAfter && !a.helpAsked {
		prompts = append(prompts, models.ProactivePrompt{
			ID:         fmt.Sprintf("time-help-%d", slideID),
			SlideID:    slideID,
			Trigger:    models.TriggerTimeThreshold,
			Message:    "Taking your time with this slide? I'm here if you need any clarification!",
			ActionText: "Ask for help",
		})
	}
	if a.slideType == models.SlideTypeWorkshop && a.interactions == 0 {
		prompts = append(prompts, models.ProactivePrompt{
			ID:         fmt.Sprintf("workshop-start-%d", slideID),
			SlideID:    slideID,
			Trigger:    models.TriggerWorkshopStart,
			Message:    "Ready for the hands-on workshop? I can provide examples or guide you through the steps.",
			ActionText: "Get guidance",
		})
	}
	if a.slideType == models.SlideTypeContent && spent < quickSkipBefore {
		prompts = append(prompts, models.ProactivePrompt{
			ID:         fmt.Sprintf("quick-skip-%d", slideID),
			SlideID:    slideID,
			Trigger:    models.TriggerNoInteraction,
			Message:    "This slide covers important concepts. Want me to highlight the key points?",
			ActionText: "Explain key points",
		})
	}
	return prompts
}

var clarifyAction = models.QuickAction{
	ID:       "clarify",
	Text:     "Explain this",
	Prompt:   "I'm confused about this slide. Can you explain the key concepts in simpler terms?",
	Emoji:    "🤔",
	Category: models.QuickActionClarify,
}

// QuickActions returns the canned questions offered for a slide type
func QuickActions(slideType models.SlideType) []models.QuickAction {
	actions := []models.QuickAction{clarifyAction}

	switch slideType {
	case models.SlideTypeWorkshop:
		actions = append(actions,
			models.QuickAction{
				ID:       "workshop-example",
				Text:     "Show example",
				Prompt:   "Can you show me an example of how to complete this workshop exercise?",
				Emoji:    "💡",
				Category: models.QuickActionWorkshop,
			},
			models.QuickAction{
				ID:       "workshop-hint",
				Text:     "Give hint",
				Prompt:   "I'm stuck on this workshop. Can you give me a hint to get started?",
				Emoji:    "🔍",
				Category: models.QuickActionWorkshop,
			})
	case models.SlideTypeContent:
		actions = append(actions,
			models.QuickAction{
				ID:       "real-example",
				Text:     "Real example",
				Prompt:   "Can you give me a real-world example of how this concept applies?",
				Emoji:    "🌍",
				Category: models.QuickActionExample,
			},
			models.QuickAction{
				ID:       "why-matters",
				Text:     "Why matters?",
				Prompt:   "Why is this concept important for understanding AI?",
				Emoji:    "❓",
				Category: models.QuickActionConcept,
			})
	case models.SlideTypeQA:
		actions = append(actions,
			models.QuickAction{
				ID:       "sample-questions",
				Text:     "Sample questions",
				Prompt:   "What are some good questions I should be thinking about for this topic?",
				Emoji:    "❓",
				Category: models.QuickActionConcept,
			},
			models.QuickAction{
				ID:       "key-takeaways",
				Text:     "Key takeaways",
				Prompt:   "What are the most important points I should remember from this section?",
				Emoji:    "📝",
				Category: models.QuickActionConcept,
			})
	}
	return actions
}

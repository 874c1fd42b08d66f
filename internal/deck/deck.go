// Package deck loads and validates the slide list. The deck is fixed before
// the presentation store is initialized and never mutated afterwards.
package deck

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"workshop-deck/internal/models"
)

//go:embed default_deck.yaml
var defaultDeck []byte

type deckFile struct {
	Slides []models.Slide `yaml:"slides"`
}

// Default returns the embedded workshop deck
func Default() ([]models.Slide, error) {
	return Parse(defaultDeck)
}

// Load reads a deck from a YAML file, or the embedded deck when path is empty
func Load(path string) ([]models.Slide, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML deck
func Parse(data []byte) ([]models.Slide, error) {
	var file deckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse deck: %w", err)
	}
	if err := Validate(file.Slides); err != nil {
		return nil, err
	}
	return file.Slides, nil
}

// Validate checks that ids are sequential from 1, types are known and
// element/code window ids are unique across the deck.
func Validate(slides []models.Slide) error {
	if len(slides) == 0 {
		return fmt.Errorf("deck has no slides")
	}

	elementIDs := make(map[string]int)
	windowIDs := make(map[string]int)
	for i, slide := range slides {
		if slide.ID != i+1 {
			return fmt.Errorf("slide at position %d has id %d, want %d", i, slide.ID, i+1)
		}
		if !slide.Type.Valid() {
			return fmt.Errorf("slide %d: unknown type %q", slide.ID, slide.Type)
		}
		if slide.Title == "" {
			return fmt.Errorf("slide %d: title is required", slide.ID)
		}
		for _, el := range slide.InteractiveElements {
			if el.ID == "" {
				continue
			}
			if other, dup := elementIDs[el.ID]; dup {
				return fmt.Errorf("slide %d: interactive element %q already used on slide %d", slide.ID, el.ID, other)
			}
			elementIDs[el.ID] = slide.ID
		}
		for _, w := range slide.CodeWindows {
			if w.ID == "" {
				return fmt.Errorf("slide %d: code window id is required", slide.ID)
			}
			if other, dup := windowIDs[w.ID]; dup {
				return fmt.Errorf("slide %d: code window %q already used on slide %d", slide.ID, w.ID, other)
			}
			windowIDs[w.ID] = slide.ID
		}
	}
	return nil
}

// ElementIDs returns every interactive element id in deck order
func ElementIDs(slides []models.Slide) []string {
	var ids []string
	for _, slide := range slides {
		for _, el := range slide.InteractiveElements {
			if el.ID != "" {
				ids = append(ids, el.ID)
			}
		}
	}
	return ids
}

package content

import (
	"encoding/json"
	"fmt"
	"os"
)

// Slide categories.
const (
	CategoryInfo        = "info"
	CategoryInteractive = "interactive"
	CategoryConsequence = "consequence"
)

// Slide is one unit of session content. Slides are static: the core
// never mutates them, only indexes into the deck's ordered sequence.
type Slide struct {
	ID          string `json:"id"`
	Category    string `json:"category"` // info, interactive, consequence
	Title       string `json:"title"`
	Round       int    `json:"round"`
	DecisionKey string `json:"decision_key,omitempty"` // set on interactive slides
}

// InvestmentOption is a purchasable option teams pick during an
// investment phase.
type InvestmentOption struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Cost         float64 `json:"cost"`
	RevenueBonus float64 `json:"revenue_bonus"`
	ScoreBonus   int     `json:"score_bonus"`
}

// ChallengeCard modifies a round's computed outcome.
type ChallengeCard struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CapitalDelta float64 `json:"capital_delta"`
	ScoreDelta   int     `json:"score_delta"`
}

// Deck is an immutable, ordered slide sequence plus the option
// catalogs referenced by its interactive slides.
type Deck struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Slides      []Slide            `json:"slides"`
	Investments []InvestmentOption `json:"investments"`
	Challenges  []ChallengeCard    `json:"challenges"`
}

// SlideAt returns the slide at index, or false when out of range.
func (d *Deck) SlideAt(index int) (Slide, bool) {
	if index < 0 || index >= len(d.Slides) {
		return Slide{}, false
	}
	return d.Slides[index], true
}

// Investment looks up an investment option by id.
func (d *Deck) Investment(id string) (InvestmentOption, bool) {
	for _, opt := range d.Investments {
		if opt.ID == id {
			return opt, true
		}
	}
	return InvestmentOption{}, false
}

// Challenge looks up a challenge card by id.
func (d *Deck) Challenge(id string) (ChallengeCard, bool) {
	for _, c := range d.Challenges {
		if c.ID == id {
			return c, true
		}
	}
	return ChallengeCard{}, false
}

// Library hands out decks by id.
type Library struct {
	decks map[string]*Deck
}

func NewLibrary(decks ...*Deck) *Library {
	lib := &Library{decks: make(map[string]*Deck)}
	for _, d := range decks {
		lib.decks[d.ID] = d
	}
	return lib
}

func (l *Library) Deck(id string) (*Deck, bool) {
	d, ok := l.decks[id]
	return d, ok
}

// LoadDeckFile reads a deck definition from a JSON file.
func LoadDeckFile(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}

	var deck Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		return nil, fmt.Errorf("failed to parse deck file: %w", err)
	}
	if deck.ID == "" {
		return nil, fmt.Errorf("deck file %s has no id", path)
	}
	return &deck, nil
}

// LoadLibraryDir loads every *.json deck in a directory.
func LoadLibraryDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck directory: %w", err)
	}

	lib := NewLibrary()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < 6 || name[len(name)-5:] != ".json" {
			continue
		}
		deck, err := LoadDeckFile(dir + "/" + name)
		if err != nil {
			return nil, err
		}
		lib.decks[deck.ID] = deck
	}
	return lib, nil
}

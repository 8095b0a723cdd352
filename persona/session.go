package persona

import (
	"context"
	"fmt"
	"strings"
)

// Page is one of the four navigable sections.
type Page string

const (
	PageHome        Page = "home"
	PagePersonality Page = "personality"
	PageTopics      Page = "topics"
	PageReaction    Page = "persona_reaction"
)

var Pages = []Page{PageHome, PagePersonality, PageTopics, PageReaction}

func ParsePage(s string) (Page, error) {
	p := Page(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Pages {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown page %q", s)
}

type Stage string

const (
	StageEmpty    Stage = "empty"
	StageAnalyzed Stage = "analyzed"
)

// Analysis is everything one successful upload produces.
type Analysis struct {
	Generation uint64             `json:"generation"`
	Dataset    Dataset            `json:"dataset"`
	Profile    PersonalityProfile `json:"personality"`
	Topics     TopicList          `json:"topics"`
}

func (a Analysis) Clone() Analysis {
	return Analysis{
		Generation: a.Generation,
		Dataset:    a.Dataset.Clone(),
		Profile:    a.Profile.Clone(),
		Topics:     a.Topics.Clone(),
	}
}

func (a Analysis) validate() error {
	if len(a.Dataset.Posts) == 0 {
		return ErrEmptyDataset
	}
	if len(a.Profile.Traits) == 0 {
		return fmt.Errorf("%w: personality profile has no traits", ErrIncompleteAnalysis)
	}
	if a.Topics == nil {
		return fmt.Errorf("%w: topic list is absent", ErrIncompleteAnalysis)
	}
	return nil
}

// SessionState is an immutable value. Transitions return a new state and never
// modify the receiver; the zero value is the Empty state.
type SessionState struct {
	generation uint64
	analysis   *Analysis
}

func NewSessionState() SessionState { return SessionState{} }

func (s SessionState) Stage() Stage {
	if s.analysis == nil {
		return StageEmpty
	}
	return StageAnalyzed
}

// Generation counts successful commits; it is 0 for a fresh session.
func (s SessionState) Generation() uint64 { return s.generation }

func (s SessionState) Analysis() (Analysis, bool) {
	if s.analysis == nil {
		return Analysis{}, false
	}
	return s.analysis.Clone(), true
}

func (s SessionState) Dataset() (Dataset, bool) {
	if s.analysis == nil {
		return Dataset{}, false
	}
	return s.analysis.Dataset.Clone(), true
}

func (s SessionState) Profile() (PersonalityProfile, bool) {
	if s.analysis == nil {
		return PersonalityProfile{}, false
	}
	return s.analysis.Profile.Clone(), true
}

func (s SessionState) Topics() (TopicList, bool) {
	if s.analysis == nil {
		return nil, false
	}
	return s.analysis.Topics.Clone(), true
}

// Commit replaces dataset, profile and topics together. The analysis must be
// complete; on error the receiver is still the current state.
func (s SessionState) Commit(a Analysis) (SessionState, error) {
	if err := a.validate(); err != nil {
		return s, err
	}
	next := a.Clone()
	next.Generation = s.generation + 1
	next.Profile.Generation = next.Generation
	return SessionState{generation: next.Generation, analysis: &next}, nil
}

// Require is the page guard. Home always passes; the other pages need a committed
// analysis and otherwise return a *GateError matching ErrUploadRequired.
func (s SessionState) Require(p Page) error {
	switch p {
	case PageHome:
		return nil
	case PagePersonality, PageTopics, PageReaction:
		if s.analysis == nil {
			return &GateError{Page: p}
		}
		return nil
	default:
		return fmt.Errorf("unknown page %q", p)
	}
}

// ReactTo guards the reaction page and runs the simulator on the cached analysis.
func (s SessionState) ReactTo(ctx context.Context, an *Analyzer, content string) (ReactionResult, error) {
	if err := s.Require(PageReaction); err != nil {
		return ReactionResult{}, err
	}
	a := s.analysis
	return an.React(ctx, content, a.Dataset, a.Profile.Traits, a.Topics)
}

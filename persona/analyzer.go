package persona

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/personascope/persona/fileutils"
	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

const (
	OpPersonality = "personality"
	OpTopics      = "topics"
	OpReaction    = "reaction"

	DefaultMaxInputChars = 60_000
)

// Analyzer runs the three inference derivations against one Completer. It holds no
// session state and is safe for concurrent use.
type Analyzer struct {
	completer       provider.Completer
	logger          *zap.Logger
	traitNames      []string
	scorePolicy     ScorePolicy
	maxInputChars   int
	maxOutputTokens int64
}

type Option func(*Analyzer)

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTraitNames sets the trait dimensions requested from the model.
func WithTraitNames(names ...string) Option {
	return func(a *Analyzer) {
		var clean []string
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				clean = append(clean, n)
			}
		}
		if len(clean) > 0 {
			a.traitNames = clean
		}
	}
}

func WithScorePolicy(p ScorePolicy) Option {
	return func(a *Analyzer) {
		if p != "" {
			a.scorePolicy = p
		}
	}
}

// WithMaxInputChars bounds the rendered posts per request; 0 means unbounded.
func WithMaxInputChars(n int) Option {
	return func(a *Analyzer) { a.maxInputChars = n }
}

func WithMaxOutputTokens(n int64) Option {
	return func(a *Analyzer) { a.maxOutputTokens = n }
}

func NewAnalyzer(c provider.Completer, opts ...Option) *Analyzer {
	a := &Analyzer{
		completer:     c,
		logger:        zap.NewNop(),
		traitNames:    append([]string(nil), DefaultTraitNames...),
		scorePolicy:   ScoreReject,
		maxInputChars: DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExtractPersonality scores the configured traits. It does not touch session state.
func (a *Analyzer) ExtractPersonality(ctx context.Context, ds Dataset) (PersonalityProfile, error) {
	var out personalityResponse
	err := a.complete(ctx, OpPersonality, provider.NewRequest[personalityResponse](
		"personality_profile",
		"Trait scores and a narrative personality summary for the author of the posts.",
		composePersonalityInstructions(a.traitNames),
		personalityInput(ds, a.maxInputChars),
	), &out)
	if err != nil {
		return PersonalityProfile{}, err
	}

	if len(out.Traits) == 0 {
		return PersonalityProfile{}, &InferenceError{Op: OpPersonality, Err: errors.New("response has no traits")}
	}
	for _, ts := range out.Traits {
		if strings.TrimSpace(ts.Trait) == "" {
			return PersonalityProfile{}, &InferenceError{Op: OpPersonality, Err: errors.New("response has an unnamed trait")}
		}
		if math.IsNaN(ts.Score) || math.IsInf(ts.Score, 0) {
			return PersonalityProfile{}, &InferenceError{Op: OpPersonality, Err: fmt.Errorf("trait %s has non-finite score", ts.Trait)}
		}
	}

	profile := PersonalityProfile{Traits: Traits(out.Traits), Summary: strings.TrimSpace(out.Summary)}
	a.logger.Info("personality extracted",
		zap.Int("traits", len(profile.Traits)),
		zap.Any("scores", profile.Traits.Map()))
	return profile, nil
}

// ExtractTopics returns the model's topic list unmodified.
func (a *Analyzer) ExtractTopics(ctx context.Context, ds Dataset) (TopicList, error) {
	var out topicsResponse
	err := a.complete(ctx, OpTopics, provider.NewRequest[topicsResponse](
		"topic_list",
		"Recurring topics in the posts.",
		strings.TrimSpace(topicsInstructions),
		topicsInput(ds, a.maxInputChars),
	), &out)
	if err != nil {
		return nil, err
	}

	topics := TopicList(out.Topics)
	if topics == nil {
		topics = TopicList{}
	}
	a.logger.Info("topics extracted", zap.Int("topics", len(topics)))
	return topics, nil
}

// React simulates the persona's reaction to content. It trusts its inputs to come
// from a committed analysis; SessionState.ReactTo is the gated entry point.
func (a *Analyzer) React(ctx context.Context, content string, ds Dataset, traits Traits, topics TopicList) (ReactionResult, error) {
	if strings.TrimSpace(content) == "" {
		return ReactionResult{}, ErrEmptyContent
	}
	input, err := reactionInput(content, ds, traits, topics, a.maxInputChars)
	if err != nil {
		return ReactionResult{}, err
	}

	var out reactionResponse
	err = a.complete(ctx, OpReaction, provider.NewRequest[reactionResponse](
		"persona_reaction",
		"The persona's reaction to new content and an engagement score.",
		strings.TrimSpace(reactionInstructions),
		input,
	), &out)
	if err != nil {
		return ReactionResult{}, err
	}

	score, clamped, err := a.scorePolicy.apply(out.Score)
	if err != nil {
		return ReactionResult{}, &InferenceError{Op: OpReaction, Err: err}
	}
	if clamped {
		a.logger.Warn("reaction score clamped", zap.Int("raw", out.Score), zap.Int("score", score))
	}
	return ReactionResult{Text: strings.TrimSpace(out.Text), Score: score}, nil
}

// Analyze runs both extractors concurrently. Either failure cancels the other and
// no partial result is returned.
func (a *Analyzer) Analyze(ctx context.Context, ds Dataset) (PersonalityProfile, TopicList, error) {
	var profile PersonalityProfile
	var topics TopicList

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.ExtractPersonality(gctx, ds)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		t, err := a.ExtractTopics(gctx, ds)
		if err != nil {
			return err
		}
		topics = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return PersonalityProfile{}, nil, err
	}
	return profile, topics, nil
}

func (a *Analyzer) complete(ctx context.Context, op string, req provider.Request, out any) error {
	if a.completer == nil {
		return &InferenceError{Op: op, Err: errors.New("no inference provider configured")}
	}
	req.MaxOutputTokens = a.maxOutputTokens

	resp, err := a.completer.Complete(ctx, req)
	if err != nil {
		return &InferenceError{Op: op, Err: err}
	}
	if err := fileutils.DecodeModelJSON(resp.Text, out); err != nil {
		a.logger.Debug("undecodable model output",
			zap.String("op", op),
			zap.String("output", fileutils.Truncate(resp.Text, 500)))
		return &InferenceError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

package persona

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/personascope/persona/fileutils"
)

const threeRowCSV = "text,favorite_count,view_count\na,10,100\nb,0,50\nc,5,0\n"

func TestSessionState_GatesPagesWhileEmpty(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	if s.Stage() != StageEmpty {
		t.Fatalf("stage=%s", s.Stage())
	}
	if err := s.Require(PageHome); err != nil {
		t.Fatalf("Require(home): %v", err)
	}

	for _, p := range []Page{PagePersonality, PageTopics, PageReaction} {
		err := s.Require(p)
		if !errors.Is(err, ErrUploadRequired) {
			t.Fatalf("Require(%s) err=%v, want ErrUploadRequired", p, err)
		}
		if err.Error() != UploadPrompt {
			t.Fatalf("message=%q", err.Error())
		}
		var ge *GateError
		if !errors.As(err, &ge) || ge.Page != p {
			t.Fatalf("gate error=%#v, want page %s", err, p)
		}
	}

	if _, err := s.ReactTo(context.Background(), NewAnalyzer(newFakeCompleter()), "hello"); !errors.Is(err, ErrUploadRequired) {
		t.Fatalf("ReactTo err=%v", err)
	}
	if _, ok := s.Dataset(); ok {
		t.Fatalf("dataset present while empty")
	}
	if _, ok := s.Profile(); ok {
		t.Fatalf("profile present while empty")
	}
	if _, ok := s.Topics(); ok {
		t.Fatalf("topics present while empty")
	}
}

func TestSessionState_CommitIsPure(t *testing.T) {
	t.Parallel()

	a := Analysis{
		Dataset: mustDataset(t),
		Profile: PersonalityProfile{Traits: Traits{{Trait: "openness", Score: 7}}, Summary: "s"},
		Topics:  TopicList{},
	}
	empty := NewSessionState()
	first, err := empty.Commit(a)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second, err := first.Commit(a)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if empty.Stage() != StageEmpty || empty.Generation() != 0 {
		t.Fatalf("empty changed: stage=%s gen=%d", empty.Stage(), empty.Generation())
	}
	if first.Generation() != 1 || second.Generation() != 2 {
		t.Fatalf("generations=%d,%d", first.Generation(), second.Generation())
	}
	if p, ok := second.Profile(); !ok || p.Generation != 2 {
		t.Fatalf("profile generation=%d ok=%v", p.Generation, ok)
	}

	// Mutating what the caller passed in or got back does not reach the state.
	a.Profile.Traits[0].Score = 0
	ds, _ := first.Dataset()
	ds.Posts[0].Text = "mutated"
	if p1, _ := first.Profile(); p1.Traits[0].Score != 7 {
		t.Fatalf("score=%v", p1.Traits[0].Score)
	}
	if ds1, _ := first.Dataset(); ds1.Posts[0].Text != "a" {
		t.Fatalf("text=%q", ds1.Posts[0].Text)
	}

	for _, pg := range Pages {
		if err := first.Require(pg); err != nil {
			t.Fatalf("Require(%s): %v", pg, err)
		}
	}
}

func TestSessionState_CommitRejectsIncompleteAnalysis(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	cases := []struct {
		name string
		a    Analysis
		want error
	}{
		{"no traits", Analysis{Dataset: mustDataset(t), Topics: TopicList{}}, ErrIncompleteAnalysis},
		{"no topics", Analysis{Dataset: mustDataset(t), Profile: PersonalityProfile{Traits: Traits{{Trait: "x"}}}}, ErrIncompleteAnalysis},
		{"no rows", Analysis{Profile: PersonalityProfile{Traits: Traits{{Trait: "x"}}}, Topics: TopicList{}}, ErrEmptyDataset},
	}
	for _, tc := range cases {
		if _, err := s.Commit(tc.a); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestIngest_ThreeRowScenario(t *testing.T) {
	t.Parallel()

	fc := newFakeCompleter()
	an := NewAnalyzer(fc)
	s, a, err := Ingest(context.Background(), an, NewSessionState(), strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if s.Stage() != StageAnalyzed || a.Generation != 1 {
		t.Fatalf("stage=%s gen=%d", s.Stage(), a.Generation)
	}

	if len(a.Dataset.Posts) != 3 {
		t.Fatalf("posts=%d", len(a.Dataset.Posts))
	}
	if got := float64(a.Dataset.Posts[0].Engagement); got != 0.10 {
		t.Fatalf("engagement[0]=%v", got)
	}
	if got := float64(a.Dataset.Posts[1].Engagement); got != 0 {
		t.Fatalf("engagement[1]=%v", got)
	}
	if got := float64(a.Dataset.Posts[2].Engagement); !math.IsInf(got, 1) {
		t.Fatalf("engagement[2]=%v, want +Inf", got)
	}

	// The non-finite ratio is what the trait extraction saw.
	reqs := fc.requests("personality_profile")
	if len(reqs) != 1 || !strings.Contains(reqs[0].Input, "c,5,0,+Inf") {
		t.Fatalf("personality requests=%+v", reqs)
	}

	r, err := s.ReactTo(context.Background(), an, "A new open-source model dropped today.")
	if err != nil {
		t.Fatalf("ReactTo: %v", err)
	}
	if r.Score != 87 || r.Text != "Love it" {
		t.Fatalf("reaction=%+v", r)
	}
}

func TestIngest_IdempotentForDeterministicProvider(t *testing.T) {
	t.Parallel()

	an := NewAnalyzer(newFakeCompleter())
	s1, a1, err := Ingest(context.Background(), an, NewSessionState(), strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	s2, a2, err := Ingest(context.Background(), an, s1, strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !reflect.DeepEqual(a1.Profile.Traits, a2.Profile.Traits) || a1.Profile.Summary != a2.Profile.Summary {
		t.Fatalf("profiles differ: %+v vs %+v", a1.Profile, a2.Profile)
	}
	if !reflect.DeepEqual(a1.Topics, a2.Topics) {
		t.Fatalf("topics differ: %+v vs %+v", a1.Topics, a2.Topics)
	}
	if s2.Generation() != 2 {
		t.Fatalf("generation=%d", s2.Generation())
	}
}

func TestIngest_ValidationFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	fc := newFakeCompleter()
	an := NewAnalyzer(fc)
	prior, _, err := Ingest(context.Background(), an, NewSessionState(), strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	for _, in := range []string{"text,view_count\nx,1\n", "text,favorite_count,view_count\n"} {
		next, _, err := Ingest(context.Background(), an, prior, strings.NewReader(in), DeriveOptions{})
		if !IsValidation(err) {
			t.Fatalf("err=%v, want validation error", err)
		}
		if !reflect.DeepEqual(prior, next) {
			t.Fatalf("state changed after validation failure")
		}
	}
	// Only the first upload reached the model.
	if n := len(fc.requests("personality_profile")); n != 1 {
		t.Fatalf("personality requests=%d", n)
	}
}

func TestIngest_InferenceFailureIsTransactional(t *testing.T) {
	t.Parallel()

	fc := newFakeCompleter()
	an := NewAnalyzer(fc)
	prior, before, err := Ingest(context.Background(), an, NewSessionState(), strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	fc.fail("topic_list", errors.New("timeout"))
	next, _, err := Ingest(context.Background(), an, prior,
		strings.NewReader("text,favorite_count,view_count\nnew,1,1\n"), DeriveOptions{})
	if !IsInference(err) {
		t.Fatalf("err=%v, want inference error", err)
	}

	if next.Generation() != prior.Generation() {
		t.Fatalf("generation=%d, want %d", next.Generation(), prior.Generation())
	}
	after, ok := next.Analysis()
	if !ok || !reflect.DeepEqual(before, after) {
		t.Fatalf("old dataset, profile and topics must stay together: ok=%v", ok)
	}
}

func TestIngest_AllRowsExcludedIsEmptyDataset(t *testing.T) {
	t.Parallel()

	_, _, err := Ingest(context.Background(), NewAnalyzer(newFakeCompleter()), NewSessionState(),
		strings.NewReader("text,favorite_count,view_count\na,1,0\n"), DeriveOptions{ZeroViews: ZeroViewExclude})
	if !errors.Is(err, ErrEmptyDataset) || !IsValidation(err) {
		t.Fatalf("err=%v, want ErrEmptyDataset", err)
	}
}

func TestSaveLoadAnalysis_RoundTrip(t *testing.T) {
	t.Parallel()

	s, a, err := Ingest(context.Background(), NewAnalyzer(newFakeCompleter()), NewSessionState(), strings.NewReader(threeRowCSV), DeriveOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	path := filepath.Join(t.TempDir(), "analysis.json")
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	if err := SaveAnalysis(path, a, "tweets.csv", at, true, false); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if err := SaveAnalysis(path, a, "tweets.csv", at, true, false); !errors.Is(err, fileutils.ErrExists) {
		t.Fatalf("second save err=%v, want ErrExists", err)
	}

	loaded, f, err := LoadAnalysis(path)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	if f.Source != "tweets.csv" || !at.Equal(f.AnalyzedAt) || loaded.Stage() != StageAnalyzed {
		t.Fatalf("source=%q at=%v stage=%s", f.Source, f.AnalyzedAt, loaded.Stage())
	}

	la, _ := loaded.Analysis()
	orig, _ := s.Analysis()
	if !math.IsInf(float64(la.Dataset.Posts[2].Engagement), 1) {
		t.Fatalf("engagement[2]=%v", la.Dataset.Posts[2].Engagement)
	}
	if !reflect.DeepEqual(orig.Profile.Traits, la.Profile.Traits) || !reflect.DeepEqual(orig.Topics, la.Topics) {
		t.Fatalf("loaded analysis differs")
	}
}

func TestParsePage(t *testing.T) {
	t.Parallel()

	p, err := ParsePage(" Persona_Reaction ")
	if err != nil || p != PageReaction {
		t.Fatalf("page=%q err=%v", p, err)
	}
	if _, err := ParsePage("settings"); err == nil {
		t.Fatalf("expected error for unknown page")
	}
}

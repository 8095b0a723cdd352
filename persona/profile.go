package persona

// DefaultTraitNames are the dimensions scored when none are configured.
var DefaultTraitNames = []string{
	"openness",
	"conscientiousness",
	"extraversion",
	"agreeableness",
	"neuroticism",
	"humor",
	"curiosity",
}

// TraitScore is one named personality dimension rated 0-10.
type TraitScore struct {
	Trait string  `json:"trait" jsonschema:"description=Lowercase trait name"`
	Score float64 `json:"score" jsonschema:"description=Rating from 0 (absent) to 10 (dominant)"`
}

// Traits keeps model order so radar axes are stable across renders.
type Traits []TraitScore

// Map returns trait name to score. Later duplicates win.
func (t Traits) Map() map[string]float64 {
	m := make(map[string]float64, len(t))
	for _, ts := range t {
		m[ts.Trait] = ts.Score
	}
	return m
}

func (t Traits) Clone() Traits {
	if t == nil {
		return nil
	}
	out := make(Traits, len(t))
	copy(out, t)
	return out
}

type RadarPoint struct {
	Trait string  `json:"trait"`
	Value float64 `json:"value"`
}

// RadarPoints normalizes scores to [0,1] by dividing by 10 and repeats the first
// point at the end so the polygon closes.
func (t Traits) RadarPoints() []RadarPoint {
	if len(t) == 0 {
		return nil
	}
	pts := make([]RadarPoint, 0, len(t)+1)
	for _, ts := range t {
		pts = append(pts, RadarPoint{Trait: ts.Trait, Value: ts.Score / 10})
	}
	return append(pts, pts[0])
}

type PersonalityProfile struct {
	Traits  Traits `json:"traits_json"`
	Summary string `json:"personality_summary"`
	// Generation is the session generation of the dataset this was derived from.
	Generation uint64 `json:"generation,omitempty"`
}

func (p PersonalityProfile) Clone() PersonalityProfile {
	p.Traits = p.Traits.Clone()
	return p
}

// personalityResponse is the model-facing shape of a PersonalityProfile.
type personalityResponse struct {
	Traits  []TraitScore `json:"traits" jsonschema:"description=One entry per requested trait in the requested order"`
	Summary string       `json:"personality_summary" jsonschema:"description=One or two paragraphs describing the author's personality"`
}

package persona

import (
	"fmt"
	"strings"
)

const (
	MinReactionScore = 0
	MaxReactionScore = 100
)

type ReactionResult struct {
	Text  string `json:"reaction_text"`
	Score int    `json:"reaction_score"`
}

// Progress is Score/100, the fill fraction of the score bar.
func (r ReactionResult) Progress() float64 {
	return float64(r.Score) / MaxReactionScore
}

// ScorePolicy decides what happens to a reaction score outside [0,100].
type ScorePolicy string

const (
	ScoreReject      ScorePolicy = "reject"
	ScoreClamp       ScorePolicy = "clamp"
	ScorePassthrough ScorePolicy = "passthrough"
)

func ParseScorePolicy(s string) (ScorePolicy, error) {
	switch p := ScorePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ScoreReject, nil
	case ScoreReject, ScoreClamp, ScorePassthrough:
		return p, nil
	default:
		return "", fmt.Errorf("unknown score policy %q (want reject, clamp, or passthrough)", s)
	}
}

// apply returns the score to report and whether it was changed.
func (p ScorePolicy) apply(score int) (int, bool, error) {
	if score >= MinReactionScore && score <= MaxReactionScore {
		return score, false, nil
	}
	switch p {
	case ScorePassthrough:
		return score, false, nil
	case ScoreClamp:
		if score < MinReactionScore {
			return MinReactionScore, true, nil
		}
		return MaxReactionScore, true, nil
	default:
		return 0, false, fmt.Errorf("%w: got %d", ErrScoreOutOfRange, score)
	}
}

type reactionResponse struct {
	Text  string `json:"reaction_text" jsonschema:"description=The persona's reaction in their own voice"`
	Score int    `json:"reaction_score" jsonschema:"description=How strongly the persona would engage from 0 to 100"`
}

package persona

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona/fileutils"
)

const headRows = 5

// Ingest parses an upload, runs both extractors and commits the result. Any failure
// returns prior unchanged, so a session never mixes a new dataset with stale
// profile or topics.
func Ingest(ctx context.Context, an *Analyzer, prior SessionState, r io.Reader, opts DeriveOptions) (SessionState, Analysis, error) {
	ds, err := ParseCSV(r, opts)
	if err != nil {
		return prior, Analysis{}, err
	}
	if len(ds.Posts) == 0 {
		return prior, Analysis{}, ErrEmptyDataset
	}

	logger := an.logger
	logger.Debug("dataset loaded",
		zap.Int("rows", ds.Len()),
		zap.Strings("ignored_columns", ds.IgnoredColumns),
		zap.Ints("excluded_rows", ds.ExcludedRows),
		zap.Any("head", ds.Head(headRows)))

	profile, topics, err := an.Analyze(ctx, ds)
	if err != nil {
		return prior, Analysis{}, err
	}

	next, err := prior.Commit(Analysis{Dataset: ds, Profile: profile, Topics: topics})
	if err != nil {
		return prior, Analysis{}, err
	}
	committed, _ := next.Analysis()

	st := ds.Stats()
	logger.Info("analysis complete",
		zap.Uint64("generation", next.Generation()),
		zap.Int("rows", st.Rows),
		zap.Int("non_finite_rows", st.NonFiniteRows),
		zap.Int("traits", len(profile.Traits)),
		zap.Int("topics", len(topics)))
	return next, committed, nil
}

// AnalysisFile is the on-disk form of an Analysis.
type AnalysisFile struct {
	Source     string    `json:"source,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	Analysis
}

func SaveAnalysis(path string, a Analysis, source string, at time.Time, pretty, overwrite bool) error {
	if err := fileutils.CheckWritable(path, overwrite); err != nil {
		return err
	}
	f := AnalysisFile{Source: source, AnalyzedAt: at.UTC(), Analysis: a}
	if err := fileutils.WriteJSONFileAtomic(path, f, pretty); err != nil {
		return fmt.Errorf("save analysis %s: %w", path, err)
	}
	return nil
}

// LoadAnalysis reads an analysis file and restores it as a committed session.
func LoadAnalysis(path string) (SessionState, AnalysisFile, error) {
	f, err := fileutils.ReadJSONFile[AnalysisFile](path)
	if err != nil {
		return SessionState{}, AnalysisFile{}, err
	}
	st, err := NewSessionState().Commit(f.Analysis)
	if err != nil {
		return SessionState{}, AnalysisFile{}, fmt.Errorf("load analysis %s: %w", path, err)
	}
	return st, f, nil
}

package exchangelog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "logs", "exchanges.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, provider.Exchange{
		Timestamp: base, Provider: "openai", Model: "gpt-5-mini", Name: "personality_profile",
		Prompt: "posts", Response: `{"traits":[]}`, Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, s.Record(ctx, provider.Exchange{
		Timestamp: base.Add(time.Second), Provider: "openai", Model: "gpt-5-mini", Name: "topic_list",
		Prompt: "posts", Error: "rate limited",
	}))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "topic_list", all[0].Name)
	assert.Equal(t, "rate limited", all[0].Error)
	assert.Equal(t, "personality_profile", all[1].Name)
	assert.Equal(t, 1500*time.Millisecond, all[1].Duration)
	assert.True(t, base.Equal(all[1].Timestamp))
	assert.Empty(t, all[1].Error)

	only, err := s.Recent(ctx, "personality_profile", 10)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, `{"traits":[]}`, only[0].Response)
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Record(ctx, provider.Exchange{Timestamp: old, Name: "persona_reaction"}))
	require.NoError(t, s.Record(ctx, provider.Exchange{Timestamp: time.Now(), Name: "persona_reaction"}))

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

type stubCompleter struct {
	err error
}

func (s stubCompleter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	if s.err != nil {
		return provider.Response{Provider: "anthropic", Model: "m"}, s.err
	}
	return provider.Response{Text: "{}", Provider: "anthropic", Model: "m"}, nil
}

func TestStore_AsRecorderThroughCompleter(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	_, err := provider.WithRecorder(stubCompleter{}, s, nil).Complete(ctx, provider.Request{Name: "topic_list", Input: "in"})
	require.NoError(t, err)
	_, err = provider.WithRecorder(stubCompleter{err: errors.New("overloaded")}, s, nil).Complete(ctx, provider.Request{Name: "topic_list", Input: "in"})
	require.Error(t, err)

	got, err := s.Recent(ctx, "topic_list", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "anthropic", got[0].Provider)
	assert.ElementsMatch(t, []string{"", "overloaded"}, []string{got[0].Error, got[1].Error})
}

package pager

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// scriptedFetcher replays a fixed sequence of page outcomes and records the
// parameters of every call.
type scriptedFetcher struct {
	script []func(params models.QueryParams) (*models.PageResponse, error)
	calls  []models.QueryParams
}

func (f *scriptedFetcher) FetchPage(_ context.Context, params models.QueryParams) (*models.PageResponse, error) {
	f.calls = append(f.calls, params)
	if len(f.script) == 0 {
		return nil, errors.New("unexpected fetch")
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next(params)
}

func page(total int, names ...string) func(models.QueryParams) (*models.PageResponse, error) {
	return func(models.QueryParams) (*models.PageResponse, error) {
		rows := make([]models.RiskAssessment, len(names))
		for i, n := range names {
			rows[i] = models.RiskAssessment{Username: n, Score: 5, Level: models.RiskLevelMedium}
		}
		return &models.PageResponse{OK: true, Rows: rows, TotalMatches: total}, nil
	}
}

func upstreamError(msg string) func(models.QueryParams) (*models.PageResponse, error) {
	return func(models.QueryParams) (*models.PageResponse, error) {
		return &models.PageResponse{OK: false, Error: msg}, nil
	}
}

func transportError(msg string) func(models.QueryParams) (*models.PageResponse, error) {
	return func(models.QueryParams) (*models.PageResponse, error) {
		return nil, errors.New(msg)
	}
}

func usernames(rows []models.RiskAssessment) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Username
	}
	return out
}

func TestStartFreshMergesFirstPage(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(3, "a", "b"),
	}}
	c := NewController(fetcher)

	err := c.StartFresh(context.Background(), models.QueryParams{Days: 3, MinScore: 3, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"a", "b"}, usernames(c.Rows()))
	assert.Equal(t, 2, c.Offset())
	assert.Equal(t, 3, c.Total())
	assert.False(t, c.Exhausted())

	require.Len(t, fetcher.calls, 1)
	assert.Zero(t, fetcher.calls[0].Offset)
}

func TestLoadMoreAppendsWithoutDisturbingEarlierPages(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(3, "a", "b"),
		page(3, "c"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Limit: 2}))
	require.NoError(t, c.LoadMore(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, usernames(c.Rows()))
	assert.Equal(t, 3, c.Offset())
	assert.True(t, c.Exhausted())

	// The second request carried the advanced offset and the same query.
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, 2, fetcher.calls[1].Offset)
	assert.True(t, fetcher.calls[0].SameQuery(fetcher.calls[1]))
}

func TestLoadMoreAfterExhaustionIsNoOp(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(1, "a"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{}))
	require.True(t, c.Exhausted())

	require.NoError(t, c.LoadMore(context.Background()))
	assert.Len(t, fetcher.calls, 1)
}

func TestTransportFailureKeepsMergedRows(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(4, "a", "b"),
		transportError("connection reset"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Limit: 2}))
	err := c.LoadMore(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, []string{"a", "b"}, usernames(c.Rows()))
	assert.Equal(t, 2, c.Offset())
	assert.Contains(t, c.LastError(), "connection reset")
}

func TestUpstreamFailureCarriesItsMessage(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		upstreamError("query window too large"),
	}}
	c := NewController(fetcher)

	err := c.StartFresh(context.Background(), models.QueryParams{})
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, "query window too large", c.LastError())
	assert.Empty(t, c.Rows())
}

func TestRetryAfterFailureRefetchesLostPageOnly(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(3, "a", "b"),
		transportError("timeout"),
		page(3, "c"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Limit: 2}))
	require.Error(t, c.LoadMore(context.Background()))

	// Retry resumes at the failed offset; nothing is duplicated.
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, usernames(c.Rows()))

	require.Len(t, fetcher.calls, 3)
	assert.Equal(t, fetcher.calls[1].Offset, fetcher.calls[2].Offset)
}

func TestLoadAllStopsWhenSourceStallsBelowTotal(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(5, "a", "b"),
		page(5),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Limit: 2}))
	require.NoError(t, c.LoadAll(context.Background()))

	assert.Equal(t, []string{"a", "b"}, usernames(c.Rows()))
	assert.Len(t, fetcher.calls, 2)
}

func TestLoadAllMergesEveryPage(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(5, "a", "b"),
		page(5, "c", "d"),
		page(5, "e"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Limit: 2}))
	require.NoError(t, c.LoadAll(context.Background()))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, usernames(c.Rows()))
	assert.True(t, c.Exhausted())
}

func TestFilteredViewNeverFetches(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		func(models.QueryParams) (*models.PageResponse, error) {
			return &models.PageResponse{OK: true, TotalMatches: 3, Rows: []models.RiskAssessment{
				{Username: "alice", Level: models.RiskLevelHigh},
				{Username: "bob", Level: models.RiskLevelMedium},
				{Username: "Carol", Level: models.RiskLevelHigh},
			}}, nil
		},
	}}
	c := NewController(fetcher)
	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{}))
	callsBefore := len(fetcher.calls)

	high := c.FilteredView(Filter{Level: models.RiskLevelHigh})
	assert.Equal(t, []string{"alice", "Carol"}, usernames(high))

	// Username search is a case-insensitive substring match.
	carol := c.FilteredView(Filter{UsernameSearch: "ARO"})
	assert.Equal(t, []string{"Carol"}, usernames(carol))

	both := c.FilteredView(Filter{UsernameSearch: "o", Level: models.RiskLevelMedium})
	assert.Equal(t, []string{"bob"}, usernames(both))

	assert.Len(t, fetcher.calls, callsBefore)
	// The accumulated set itself is untouched.
	assert.Len(t, c.Rows(), 3)
	assert.Equal(t, 3, c.Offset())
}

func TestStartFreshResetsAccumulatedState(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(2, "a", "b"),
		page(1, "z"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Days: 3}))
	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Days: 7}))

	assert.Equal(t, []string{"z"}, usernames(c.Rows()))
	assert.Equal(t, 1, c.Offset())
	assert.Equal(t, 1, c.Total())
	assert.Equal(t, 7, c.Params().Days)
}

func TestRowsReturnsSnapshotCopy(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(1, "a"),
	}}
	c := NewController(fetcher)
	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{}))

	snapshot := c.Rows()
	snapshot[0].Username = "mutated"
	assert.Equal(t, "a", c.Rows()[0].Username)
}

func TestParamNormalizationAppliedOnStartFresh(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func(models.QueryParams) (*models.PageResponse, error){
		page(1, "a"),
	}}
	c := NewController(fetcher)

	require.NoError(t, c.StartFresh(context.Background(), models.QueryParams{Days: -1, MinScore: -5, Limit: 0}))

	got := c.Params()
	assert.Equal(t, models.DefaultDays, got.Days)
	assert.Equal(t, models.DefaultMinScore, got.MinScore)
	assert.Equal(t, models.DefaultLimit, got.Limit)
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:     "idle",
		StateFetching: "fetching",
		StateFailed:   "failed",
		State(99):     "unknown",
	} {
		assert.Equal(t, want, fmt.Sprint(s))
	}
}

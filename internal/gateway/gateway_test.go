package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracklens/tracklens/internal/core"
	"github.com/tracklens/tracklens/internal/gateway/driver"
)

type stubResult struct {
	content string
	err     error
}

type stubDriver struct {
	name    string
	calls   int
	results []stubResult
}

func (d *stubDriver) Complete(_ context.Context, _ *driver.Request) (*driver.Response, error) {
	idx := d.calls
	d.calls++
	if idx >= len(d.results) {
		idx = len(d.results) - 1
	}
	r := d.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &driver.Response{Content: r.content, FinishReason: "stop"}, nil
}

func (d *stubDriver) Name() string {
	if d.name == "" {
		return "stub"
	}
	return d.name
}

func (d *stubDriver) Configured() bool { return true }

// memStore backs all three gateway store interfaces in memory.
type memStore struct {
	issues   map[string]*core.Issue
	labels   map[string][]core.Label
	recent   map[string][]core.Issue
	cache    map[string]*core.AICacheEntry
	requests map[string][]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		issues:   make(map[string]*core.Issue),
		labels:   make(map[string][]core.Label),
		recent:   make(map[string][]core.Issue),
		cache:    make(map[string]*core.AICacheEntry),
		requests: make(map[string][]time.Time),
	}
}

func (m *memStore) FindIssue(_ context.Context, id string) (*core.Issue, error) {
	return m.issues[id], nil
}

func (m *memStore) FindLabels(_ context.Context, projectID string) ([]core.Label, error) {
	return m.labels[projectID], nil
}

func (m *memStore) FindRecentIssues(_ context.Context, projectID string, _ int) ([]core.Issue, error) {
	return m.recent[projectID], nil
}

func (m *memStore) GetAICache(_ context.Context, issueID string) (*core.AICacheEntry, error) {
	return m.cache[issueID], nil
}

func (m *memStore) UpsertAISummary(_ context.Context, issueID, hash, summary string) error {
	e := m.cache[issueID]
	if e == nil || e.DescriptionHash != hash {
		e = &core.AICacheEntry{IssueID: issueID}
	}
	e.DescriptionHash = hash
	e.Summary = summary
	m.cache[issueID] = e
	return nil
}

func (m *memStore) UpsertAISuggestions(_ context.Context, issueID, hash, suggestions string) error {
	e := m.cache[issueID]
	if e == nil || e.DescriptionHash != hash {
		e = &core.AICacheEntry{IssueID: issueID}
	}
	e.DescriptionHash = hash
	e.Suggestions = suggestions
	m.cache[issueID] = e
	return nil
}

func (m *memStore) CountRequestsSince(_ context.Context, userID, endpoint string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		oldest time.Time
	)
	for _, at := range m.requests[userID+"|"+endpoint] {
		if at.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return count, oldest, nil
}

func (m *memStore) RecordRequest(_ context.Context, userID, endpoint string, at time.Time) error {
	key := userID + "|" + endpoint
	m.requests[key] = append(m.requests[key], at)
	return nil
}

func newTestGateway(t *testing.T, d driver.Driver) (*Gateway, *memStore) {
	t.Helper()
	ms := newMemStore()
	gw, err := New(Config{}, ms, ms, ms)
	require.NoError(t, err)
	if d != nil {
		gw.SwapProviders(&Providers{Active: d, Model: "test-model", Preferred: ProviderOpenAI})
	}
	gw.SetBackoffSleep(func(context.Context, time.Duration) error { return nil })
	return gw, ms
}

func seedIssue(ms *memStore, id, projectID, title, description string) {
	ms.issues[id] = &core.Issue{ID: id, ProjectID: projectID, Title: title, Description: description}
}

func TestGenerateSummaryRequiresProvider(t *testing.T) {
	gw, ms := newTestGateway(t, nil)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateSummaryUnknownIssue(t *testing.T) {
	gw, _ := newTestGateway(t, &stubDriver{results: []stubResult{{content: "ok"}}})

	_, err := gw.GenerateSummary(context.Background(), "missing", "user-1")
	require.True(t, IsNotFound(err))
}

func TestGenerateSummaryShortDescription(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "ok"}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "ok")

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.ErrorIs(t, err, ErrDescriptionTooShort)
	require.Zero(t, stub.calls)

	remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
	require.NoError(t, err)
	require.Equal(t, 20, remaining)
}

func TestGenerateSummaryCachesByDescriptionHash(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "Summary: the app crashes."}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	first, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "Summary: the app crashes.", first)
	require.Equal(t, 1, stub.calls)

	remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
	require.NoError(t, err)
	require.Equal(t, 19, remaining)

	second, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, stub.calls)

	remaining, err = gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
	require.NoError(t, err)
	require.Equal(t, 19, remaining)
}

func TestGenerateSummaryRegeneratesAfterEdit(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "first summary"}, {content: "second summary"}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)

	ms.issues["issue-1"].Description = "the app crashes only after the second launch"

	second, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "second summary", second)
	require.Equal(t, 2, stub.calls)

	remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
	require.NoError(t, err)
	require.Equal(t, 18, remaining)
}

func TestSummaryAndSuggestionsUseSeparateQuotas(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "generated"}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)
	_, err = gw.GenerateSuggestions(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)

	remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
	require.NoError(t, err)
	require.Equal(t, 19, remaining)

	remaining, err = gw.RemainingRequests(context.Background(), "user-1", EndpointSuggestions)
	require.NoError(t, err)
	require.Equal(t, 19, remaining)
}

func TestGenerateSummaryRateLimited(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "generated"}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	seedIssue(ms, "issue-2", "proj-1", "Hang", "the app hangs when saving a large file")
	gw.Limiter().MaxRequests = 1

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)

	_, err = gw.GenerateSummary(context.Background(), "issue-2", "user-1")
	require.True(t, IsRateLimited(err))

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Greater(t, rl.RetryAfter, time.Duration(0))
	require.Equal(t, 1, stub.calls)
}

func TestRateLimitWindowElapses(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "generated"}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	seedIssue(ms, "issue-2", "proj-1", "Hang", "the app hangs when saving a large file")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gw.Limiter().MaxRequests = 1
	gw.Limiter().Clock = func() time.Time { return now }

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)

	_, err = gw.GenerateSummary(context.Background(), "issue-2", "user-1")
	require.True(t, IsRateLimited(err))

	now = now.Add(61 * time.Second)

	_, err = gw.GenerateSummary(context.Background(), "issue-2", "user-1")
	require.NoError(t, err)
}

func TestRemainingRequestsIdempotent(t *testing.T) {
	gw, _ := newTestGateway(t, &stubDriver{results: []stubResult{{content: "ok"}}})

	for i := 0; i < 3; i++ {
		remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointSummary)
		require.NoError(t, err)
		require.Equal(t, 20, remaining)
	}
}

func TestDetectDuplicatesUnconfigured(t *testing.T) {
	gw, _ := newTestGateway(t, nil)

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "New bug", "steps to repro")
	require.Empty(t, matches)
}

func TestDetectDuplicatesFiltersBySimilarity(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: `[
		{"id": "issue-1", "similarity": 0.92, "reason": "same crash on startup"},
		{"id": "issue-2", "similarity": 0.41, "reason": "different subsystem"}
	]`}}}
	gw, ms := newTestGateway(t, stub)
	ms.recent["proj-1"] = []core.Issue{
		{ID: "issue-1", Title: "Crash", Description: "crashes on startup"},
		{ID: "issue-2", Title: "Slow save", Description: "saving is slow"},
	}

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "Startup crash", "app crashes when launched")
	require.Len(t, matches, 1)
	require.Equal(t, "issue-1", matches[0].ID)
	require.InDelta(t, 0.92, matches[0].Similarity, 0.001)
}

func TestDetectDuplicatesCapsResults(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: `[
		{"id": "a", "similarity": 0.95, "reason": "r"},
		{"id": "b", "similarity": 0.9, "reason": "r"},
		{"id": "c", "similarity": 0.85, "reason": "r"},
		{"id": "d", "similarity": 0.8, "reason": "r"}
	]`}}}
	gw, ms := newTestGateway(t, stub)
	ms.recent["proj-1"] = []core.Issue{{ID: "a", Title: "t", Description: "d"}}

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "title", "description")
	require.Len(t, matches, 3)
}

func TestDetectDuplicatesParsesJSONModeEnvelope(t *testing.T) {
	// JSON-mode providers wrap the array in the prompted object envelope.
	stub := &stubDriver{results: []stubResult{{content: `{"matches": [
		{"id": "issue-1", "similarity": 0.92, "reason": "same crash on startup"}
	]}`}}}
	gw, ms := newTestGateway(t, stub)
	ms.recent["proj-1"] = []core.Issue{{ID: "issue-1", Title: "Crash", Description: "crashes on startup"}}

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "Startup crash", "app crashes when launched")
	require.Len(t, matches, 1)
	require.Equal(t, "issue-1", matches[0].ID)
}

func TestDetectDuplicatesMalformedResponse(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "I could not find any duplicates, sorry!"}}}
	gw, ms := newTestGateway(t, stub)
	ms.recent["proj-1"] = []core.Issue{{ID: "a", Title: "t", Description: "d"}}

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "title", "description")
	require.Empty(t, matches)
}

func TestDetectDuplicatesProviderFailure(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{err: &driver.ProviderError{Provider: "stub", StatusCode: 503, Message: "down"}}}}
	gw, ms := newTestGateway(t, stub)
	ms.recent["proj-1"] = []core.Issue{{ID: "a", Title: "t", Description: "d"}}

	matches := gw.DetectDuplicates(context.Background(), "proj-1", "title", "description")
	require.Empty(t, matches)
}

func TestAutoLabelMatchesAndDedupes(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: `["Bug","Frontend","Bug"]`}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	ms.labels["proj-1"] = []core.Label{
		{ID: "l1", Name: "Bug"},
		{ID: "l2", Name: "Backend"},
	}

	labels, err := gw.AutoLabel(context.Background(), "issue-1", "proj-1", "user-1")
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.Equal(t, "Bug", labels[0].Name)
	require.Equal(t, "l1", labels[0].ID)
}

func TestAutoLabelParsesJSONModeEnvelope(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: `{"labels": ["Bug"]}`}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	ms.labels["proj-1"] = []core.Label{
		{ID: "l1", Name: "Bug"},
		{ID: "l2", Name: "Backend"},
	}

	labels, err := gw.AutoLabel(context.Background(), "issue-1", "proj-1", "user-1")
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.Equal(t, "l1", labels[0].ID)
}

func TestAutoLabelNoProjectLabels(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: `["Bug"]`}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	labels, err := gw.AutoLabel(context.Background(), "issue-1", "proj-1", "user-1")
	require.NoError(t, err)
	require.Empty(t, labels)
	require.Zero(t, stub.calls)

	remaining, err := gw.RemainingRequests(context.Background(), "user-1", EndpointAutoLabel)
	require.NoError(t, err)
	require.Equal(t, 20, remaining)
}

func TestAutoLabelMalformedResponse(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{content: "Bug and Backend both apply."}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	ms.labels["proj-1"] = []core.Label{{ID: "l1", Name: "Bug"}}

	labels, err := gw.AutoLabel(context.Background(), "issue-1", "proj-1", "user-1")
	require.NoError(t, err)
	require.Empty(t, labels)
}

func TestAutoLabelPropagatesProviderError(t *testing.T) {
	stub := &stubDriver{results: []stubResult{{err: &driver.ProviderError{Provider: "stub", StatusCode: 401, Message: "bad key"}}}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")
	ms.labels["proj-1"] = []core.Label{{ID: "l1", Name: "Bug"}}

	_, err := gw.AutoLabel(context.Background(), "issue-1", "proj-1", "user-1")
	require.Error(t, err)
	require.True(t, driver.IsAuth(err))
	require.Equal(t, 1, stub.calls)
}

func TestGenerateSummaryRetriesTransientFailure(t *testing.T) {
	stub := &stubDriver{results: []stubResult{
		{err: &driver.ProviderError{Provider: "stub", StatusCode: 503, Message: "overloaded"}},
		{content: "recovered summary"},
	}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	summary, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, "recovered summary", summary)
	require.Equal(t, 2, stub.calls)
}

func TestGenerateSummaryDoesNotRetryAuthFailure(t *testing.T) {
	stub := &stubDriver{results: []stubResult{
		{err: &driver.ProviderError{Provider: "stub", StatusCode: 401, Message: "invalid key"}},
	}}
	gw, ms := newTestGateway(t, stub)
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
}

func TestReinitializeSwapsProviders(t *testing.T) {
	ms := newMemStore()
	gw, err := New(Config{
		PreferredProvider: ProviderAnthropic,
		Anthropic:         ProviderConfig{APIKey: "key-a"},
	}, ms, ms, ms)
	require.NoError(t, err)
	require.Equal(t, "anthropic", gw.Status().ActiveProvider)

	status := gw.Reinitialize(Config{
		PreferredProvider: ProviderOpenAI,
		OpenAI:            ProviderConfig{APIKey: "key-o"},
	})
	require.True(t, status.Available)
	require.Equal(t, "openai", status.ActiveProvider)
	require.False(t, status.FellBack)
	require.Equal(t, "openai", gw.Status().ActiveProvider)
}

func TestReinitializeWithoutCredentials(t *testing.T) {
	gw, ms := newTestGateway(t, &stubDriver{results: []stubResult{{content: "ok"}}})
	seedIssue(ms, "issue-1", "proj-1", "Crash", "the app crashes on startup every time")

	status := gw.Reinitialize(Config{})
	require.False(t, status.Available)

	_, err := gw.GenerateSummary(context.Background(), "issue-1", "user-1")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestProviderErrorClassification(t *testing.T) {
	transient := &driver.ProviderError{Provider: "stub", StatusCode: 429, Message: "slow down"}
	require.True(t, driver.IsTransient(transient))
	require.False(t, driver.IsAuth(transient))

	auth := &driver.ProviderError{Provider: "stub", StatusCode: 403, Message: "forbidden"}
	require.True(t, driver.IsAuth(auth))
	require.False(t, driver.IsTransient(auth))

	require.True(t, driver.IsTransient(errors.New("request failed: connection reset by peer")))
	require.False(t, driver.IsTransient(errors.New("model not found")))
}

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tracklens/tracklens/internal/core"
	apperrors "github.com/tracklens/tracklens/internal/errors"
	"github.com/tracklens/tracklens/internal/gateway"
	"github.com/tracklens/tracklens/internal/gateway/driver"
	"github.com/tracklens/tracklens/internal/server"
	"github.com/tracklens/tracklens/internal/server/handlers"
)

type fakeDriver struct {
	content string
	err     error
	calls   int
}

func (d *fakeDriver) Complete(_ context.Context, _ *driver.Request) (*driver.Response, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &driver.Response{Content: d.content}, nil
}

func (d *fakeDriver) Name() string     { return "fake" }
func (d *fakeDriver) Configured() bool { return true }

type fakeStore struct {
	issues   map[string]*core.Issue
	labels   map[string][]core.Label
	recent   map[string][]core.Issue
	cache    map[string]*core.AICacheEntry
	requests map[string][]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		issues:   map[string]*core.Issue{},
		labels:   map[string][]core.Label{},
		recent:   map[string][]core.Issue{},
		cache:    map[string]*core.AICacheEntry{},
		requests: map[string][]time.Time{},
	}
}

func (f *fakeStore) FindIssue(_ context.Context, id string) (*core.Issue, error) {
	return f.issues[id], nil
}

func (f *fakeStore) FindLabels(_ context.Context, projectID string) ([]core.Label, error) {
	return f.labels[projectID], nil
}

func (f *fakeStore) FindRecentIssues(_ context.Context, projectID string, _ int) ([]core.Issue, error) {
	return f.recent[projectID], nil
}

func (f *fakeStore) GetAICache(_ context.Context, issueID string) (*core.AICacheEntry, error) {
	return f.cache[issueID], nil
}

func (f *fakeStore) UpsertAISummary(_ context.Context, issueID, hash, summary string) error {
	f.cache[issueID] = &core.AICacheEntry{IssueID: issueID, DescriptionHash: hash, Summary: summary}
	return nil
}

func (f *fakeStore) UpsertAISuggestions(_ context.Context, issueID, hash, suggestions string) error {
	f.cache[issueID] = &core.AICacheEntry{IssueID: issueID, DescriptionHash: hash, Suggestions: suggestions}
	return nil
}

func (f *fakeStore) CountRequestsSince(_ context.Context, userID, endpoint string, since time.Time) (int, time.Time, error) {
	var count int
	var oldest time.Time
	for _, at := range f.requests[userID+"|"+endpoint] {
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

func (f *fakeStore) RecordRequest(_ context.Context, userID, endpoint string, at time.Time) error {
	key := userID + "|" + endpoint
	f.requests[key] = append(f.requests[key], at)
	return nil
}

func newTestServer(t *testing.T, d driver.Driver) (*server.Server, *fakeStore) {
	t.Helper()

	fs := newFakeStore()
	gw, err := gateway.New(gateway.Config{}, fs, fs, fs)
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	if d != nil {
		gw.SwapProviders(&gateway.Providers{Active: d, Model: "test-model", Preferred: gateway.ProviderOpenAI})
	}
	gw.SetBackoffSleep(func(context.Context, time.Duration) error { return nil })

	ai := &handlers.AIHandler{
		Gateway: gw,
		ReloadConfig: func() (gateway.Config, error) {
			return gateway.Config{}, nil
		},
	}
	return server.New("127.0.0.1", 0, ai), fs
}

func seedIssue(fs *fakeStore, id, projectID, description string) {
	fs.issues[id] = &core.Issue{
		ID:          id,
		ProjectID:   projectID,
		Title:       "Test issue",
		Description: description,
		Status:      "open",
	}
}

func doRequest(srv *server.Server, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(handlers.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Error.Code
}

func TestSummaryEndpointRequiresUserHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDriver{content: "summary text"})

	rec := doRequest(srv, http.MethodPost, "/api/issues/issue-1/summary", "", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "INVALID_INPUT" {
		t.Fatalf("expected error code INVALID_INPUT, got %s", code)
	}
}

func TestSummaryEndpointReturnsSummary(t *testing.T) {
	srv, fs := newTestServer(t, &fakeDriver{content: "The login flow breaks after a password reset."})
	seedIssue(fs, "issue-1", "proj-1", "submitting the login form returns a 500 after password reset")

	rec := doRequest(srv, http.MethodPost, "/api/issues/issue-1/summary", "user-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.SummaryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.IssueID != "issue-1" {
		t.Fatalf("expected issue_id issue-1, got %s", resp.IssueID)
	}
	if resp.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}
}

func TestSummaryEndpointUnknownIssue(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDriver{content: "unused"})

	rec := doRequest(srv, http.MethodPost, "/api/issues/missing/summary", "user-1", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", code)
	}
}

func TestSummaryEndpointUnconfiguredProvider(t *testing.T) {
	srv, fs := newTestServer(t, nil)
	seedIssue(fs, "issue-1", "proj-1", "a long enough description for analysis")

	rec := doRequest(srv, http.MethodPost, "/api/issues/issue-1/summary", "user-1", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "AI_NOT_CONFIGURED" {
		t.Fatalf("expected error code AI_NOT_CONFIGURED, got %s", code)
	}
}

func TestSummaryEndpointRateLimited(t *testing.T) {
	srv, fs := newTestServer(t, &fakeDriver{content: "unused"})
	seedIssue(fs, "issue-1", "proj-1", "a long enough description for analysis")

	now := time.Now()
	for i := 0; i < 20; i++ {
		_ = fs.RecordRequest(context.Background(), "user-1", "summary", now)
	}

	rec := doRequest(srv, http.MethodPost, "/api/issues/issue-1/summary", "user-1", "")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	if code := decodeErrorCode(t, rec); code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected error code RATE_LIMIT_EXCEEDED, got %s", code)
	}
}

func TestDuplicatesEndpointNeverFails(t *testing.T) {
	srv, fs := newTestServer(t, &fakeDriver{err: &driver.ProviderError{Provider: "fake", StatusCode: 503, Message: "unavailable"}})
	fs.recent["proj-1"] = []core.Issue{{ID: "issue-9", ProjectID: "proj-1", Title: "Old crash"}}

	body := `{"title":"Crash on login","description":"the app crashes right after login"}`
	rec := doRequest(srv, http.MethodPost, "/api/projects/proj-1/duplicates", "user-1", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp handlers.DuplicatesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Duplicates) != 0 {
		t.Fatalf("expected no duplicates on provider failure, got %d", len(resp.Duplicates))
	}
}

func TestAutoLabelEndpointPropagatesProviderError(t *testing.T) {
	srv, fs := newTestServer(t, &fakeDriver{err: &driver.ProviderError{Provider: "fake", StatusCode: 401, Message: "bad key"}})
	seedIssue(fs, "issue-1", "proj-1", "a long enough description for analysis")
	fs.labels["proj-1"] = []core.Label{{ID: "l1", ProjectID: "proj-1", Name: "Bug"}}

	rec := doRequest(srv, http.MethodPost, "/api/issues/issue-1/autolabel", "user-1", "")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "PROVIDER_ERROR" {
		t.Fatalf("expected error code PROVIDER_ERROR, got %s", code)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	srv, fs := newTestServer(t, &fakeDriver{content: "unused"})
	_ = fs.RecordRequest(context.Background(), "user-1", "summary", time.Now())

	rec := doRequest(srv, http.MethodGet, "/api/ai/quota?endpoint=summary", "user-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp handlers.QuotaResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Remaining != 19 {
		t.Fatalf("expected 19 remaining, got %d", resp.Remaining)
	}
	if resp.Limit != 20 {
		t.Fatalf("expected limit 20, got %d", resp.Limit)
	}
}

func TestQuotaEndpointRejectsUnknownEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDriver{content: "unused"})

	rec := doRequest(srv, http.MethodGet, "/api/ai/quota?endpoint=bogus", "user-1", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestReloadEndpointWithoutCredentials(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDriver{content: "unused"})

	rec := doRequest(srv, http.MethodPost, "/api/ai/reload", "user-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp handlers.ReloadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Available {
		t.Fatal("expected provider to be unavailable after reload without credentials")
	}
}

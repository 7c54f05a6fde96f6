package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/tracklens/tracklens/internal/core"
	"github.com/tracklens/tracklens/internal/gateway/driver"
	"github.com/tracklens/tracklens/internal/gateway/prompt"
	"github.com/tracklens/tracklens/internal/metrics"
)

const (
	// Descriptions at or below this many characters carry too little signal
	// for any of the generative operations.
	minDescriptionLength = 10

	promptSummary     = "issue-summary"
	promptSuggestions = "issue-suggestions"
	promptDuplicates  = "duplicate-detection"
	promptAutoLabel   = "auto-label"

	recentIssueLimit       = 20
	maxDuplicateResults    = 3
	duplicateSimilarityBar = 0.7
	maxCandidateDescLength = 500
)

// IssueStore provides read access to tracker records.
type IssueStore interface {
	FindIssue(ctx context.Context, id string) (*core.Issue, error)
	FindLabels(ctx context.Context, projectID string) ([]core.Label, error)
	FindRecentIssues(ctx context.Context, projectID string, limit int) ([]core.Issue, error)
}

// CacheStore persists generated results keyed by description hash.
type CacheStore interface {
	GetAICache(ctx context.Context, issueID string) (*core.AICacheEntry, error)
	UpsertAISummary(ctx context.Context, issueID, hash, summary string) error
	UpsertAISuggestions(ctx context.Context, issueID, hash, suggestions string) error
}

// Gateway coordinates provider selection, quota enforcement, caching, and
// retries for all AI-assisted tracker operations.
type Gateway struct {
	Logger *logging.Logger

	cfg     Config
	issues  IssueStore
	cache   CacheStore
	limiter *RateLimiter
	prompts prompt.Registry
	backoff BackoffPolicy

	mu        sync.RWMutex
	providers *Providers
}

// New builds a gateway from cfg with providers already resolved.
func New(cfg Config, issues IssueStore, cache CacheStore, rates RateLimitStore) (*Gateway, error) {
	cfg = cfg.withDefaults()

	registry, err := prompt.DefaultRegistry(cfg.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	providers := NewProviders(cfg)
	if providers.FellBack && providers.Available() {
		metrics.RecordAIProviderFallback(providers.Preferred, providers.Active.Name())
	}

	return &Gateway{
		cfg:    cfg,
		issues: issues,
		cache:  cache,
		limiter: &RateLimiter{
			Store:       rates,
			MaxRequests: cfg.RateLimitMax,
			Window:      cfg.RateLimitWindow,
		},
		prompts:   registry,
		backoff:   BackoffPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		providers: providers,
	}, nil
}

// Limiter exposes the rate limiter for test clock injection and admin tooling.
func (g *Gateway) Limiter() *RateLimiter {
	return g.limiter
}

// SwapProviders replaces the provider snapshot directly, bypassing config
// resolution. Intended for tests and embedders that build their own driver.
func (g *Gateway) SwapProviders(p *Providers) {
	g.mu.Lock()
	g.providers = p
	g.mu.Unlock()
}

// SetBackoffSleep overrides the retry sleeper. Intended for tests.
func (g *Gateway) SetBackoffSleep(sleep func(ctx context.Context, d time.Duration) error) {
	g.backoff.Sleep = sleep
}

// Status reports the current provider snapshot.
func (g *Gateway) Status() ProviderStatus {
	return g.activeProviders().Status()
}

// Reinitialize rebuilds the provider chain from cfg. In-flight requests
// finish on the snapshot they started with.
func (g *Gateway) Reinitialize(cfg Config) ProviderStatus {
	cfg = cfg.withDefaults()
	next := NewProviders(cfg)

	g.mu.Lock()
	g.cfg = cfg
	g.providers = next
	g.mu.Unlock()

	if next.FellBack && next.Available() {
		metrics.RecordAIProviderFallback(next.Preferred, next.Active.Name())
	}
	g.logInfo("AI providers reinitialized",
		zap.String("active", next.Status().ActiveProvider),
		zap.Bool("fell_back", next.FellBack))
	return next.Status()
}

func (g *Gateway) activeProviders() *Providers {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.providers
}

// GenerateSummary produces (or returns a cached) summary for the issue.
func (g *Gateway) GenerateSummary(ctx context.Context, issueID, userID string) (string, error) {
	return g.generate(ctx, issueID, userID, EndpointSummary, promptSummary,
		func(e *core.AICacheEntry) string { return e.Summary },
		g.cache.UpsertAISummary)
}

// GenerateSuggestions produces (or returns cached) resolution suggestions.
func (g *Gateway) GenerateSuggestions(ctx context.Context, issueID, userID string) (string, error) {
	return g.generate(ctx, issueID, userID, EndpointSuggestions, promptSuggestions,
		func(e *core.AICacheEntry) string { return e.Suggestions },
		g.cache.UpsertAISuggestions)
}

func (g *Gateway) generate(
	ctx context.Context,
	issueID, userID, endpoint, slug string,
	cachedField func(*core.AICacheEntry) string,
	persist func(ctx context.Context, issueID, hash, value string) error,
) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	providers := g.activeProviders()
	if !providers.Available() {
		return "", ErrNotConfigured
	}

	issue, err := g.issues.FindIssue(ctx, issueID)
	if err != nil {
		return "", fmt.Errorf("find issue: %w", err)
	}
	if issue == nil {
		return "", &NotFoundError{Kind: "issue", ID: issueID}
	}

	description := strings.TrimSpace(issue.Description)
	if utf8.RuneCountInString(description) <= minDescriptionLength {
		return "", ErrDescriptionTooShort
	}

	hash := DescriptionHash(description)
	entry, err := g.cache.GetAICache(ctx, issueID)
	if err != nil {
		return "", fmt.Errorf("read cache: %w", err)
	}
	if entry != nil && entry.DescriptionHash == hash {
		if cached := cachedField(entry); cached != "" {
			metrics.RecordAICacheHit(endpoint)
			return cached, nil
		}
	}

	if err := g.limiter.Check(ctx, userID, endpoint); err != nil {
		if IsRateLimited(err) {
			metrics.RecordAIRateLimited(endpoint)
		}
		return "", err
	}

	start := time.Now()
	result, err := g.complete(ctx, providers, slug, map[string]string{
		"title":       issue.Title,
		"description": description,
	}, nil)
	metrics.RecordAIRequest(endpoint, providers.Active.Name(), err == nil, time.Since(start))
	if err != nil {
		g.logWarn("AI generation failed",
			zap.String("endpoint", endpoint),
			zap.String("issue_id", issueID),
			zap.String("user_id", userID),
			zap.String("provider", providers.Active.Name()),
			zap.Error(err))
		return "", err
	}

	if err := persist(ctx, issueID, hash, result); err != nil {
		// The result is still good; a stale cache only costs a regeneration.
		g.logWarn("Failed to persist AI cache entry",
			zap.String("endpoint", endpoint),
			zap.String("issue_id", issueID),
			zap.Error(err))
	}
	return result, nil
}

// DetectDuplicates compares a new report against recent issues in the
// project. It is advisory and degrades to an empty result on any failure.
func (g *Gateway) DetectDuplicates(ctx context.Context, projectID, title, description string) []core.DuplicateMatch {
	if ctx == nil {
		ctx = context.Background()
	}

	providers := g.activeProviders()
	if !providers.Available() {
		return []core.DuplicateMatch{}
	}

	recent, err := g.issues.FindRecentIssues(ctx, projectID, recentIssueLimit)
	if err != nil {
		g.logWarn("Duplicate detection skipped: listing issues failed",
			zap.String("project_id", projectID), zap.Error(err))
		return []core.DuplicateMatch{}
	}
	if len(recent) == 0 {
		return []core.DuplicateMatch{}
	}

	raw, err := g.complete(ctx, providers, promptDuplicates, map[string]string{
		"title":       title,
		"description": description,
		"candidates":  formatCandidates(recent),
	}, &driver.ResponseFormat{Type: "json_object"})
	if err != nil {
		g.logWarn("Duplicate detection failed",
			zap.String("project_id", projectID),
			zap.String("provider", providers.Active.Name()),
			zap.Error(err))
		return []core.DuplicateMatch{}
	}

	matches, err := parseDuplicates(raw, duplicateSimilarityBar, maxDuplicateResults)
	if err != nil {
		g.logWarn("Duplicate detection returned malformed output",
			zap.String("project_id", projectID), zap.Error(err))
		return []core.DuplicateMatch{}
	}
	return matches
}

// AutoLabel picks labels for the issue from the project's label set. Quota
// is only consumed when a provider call actually happens, so projects with
// no labels defined short-circuit for free.
func (g *Gateway) AutoLabel(ctx context.Context, issueID, projectID, userID string) ([]core.Label, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	providers := g.activeProviders()
	if !providers.Available() {
		return nil, ErrNotConfigured
	}

	issue, err := g.issues.FindIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("find issue: %w", err)
	}
	if issue == nil {
		return nil, &NotFoundError{Kind: "issue", ID: issueID}
	}
	if strings.TrimSpace(projectID) == "" {
		projectID = issue.ProjectID
	}

	labels, err := g.issues.FindLabels(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find labels: %w", err)
	}
	if len(labels) == 0 {
		return []core.Label{}, nil
	}

	if err := g.limiter.Check(ctx, userID, EndpointAutoLabel); err != nil {
		if IsRateLimited(err) {
			metrics.RecordAIRateLimited(EndpointAutoLabel)
		}
		return nil, err
	}

	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}

	start := time.Now()
	raw, err := g.complete(ctx, providers, promptAutoLabel, map[string]string{
		"title":       issue.Title,
		"description": issue.Description,
		"labels":      strings.Join(names, ", "),
	}, &driver.ResponseFormat{Type: "json_object"})
	metrics.RecordAIRequest(EndpointAutoLabel, providers.Active.Name(), err == nil, time.Since(start))
	if err != nil {
		g.logWarn("Auto-labeling failed",
			zap.String("issue_id", issueID),
			zap.String("user_id", userID),
			zap.String("provider", providers.Active.Name()),
			zap.Error(err))
		return nil, err
	}

	suggested, err := parseLabelNames(raw)
	if err != nil {
		g.logWarn("Auto-labeling returned malformed output",
			zap.String("issue_id", issueID), zap.Error(err))
		return []core.Label{}, nil
	}
	return matchLabels(suggested, labels), nil
}

// RemainingRequests reports how many calls the user may still make against
// one endpoint in the current window. It never consumes quota.
func (g *Gateway) RemainingRequests(ctx context.Context, userID, endpoint string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.limiter.Remaining(ctx, userID, endpoint)
}

func (g *Gateway) complete(ctx context.Context, providers *Providers, slug string, vars map[string]string, format *driver.ResponseFormat) (string, error) {
	def, err := g.prompts.Get(slug)
	if err != nil {
		return "", err
	}
	system, user, err := prompt.Render(def, vars)
	if err != nil {
		return "", err
	}

	req := &driver.Request{
		Model: providers.Model,
		Messages: []driver.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	}

	var resp *driver.Response
	err = g.backoff.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()

		var callErr error
		resp, callErr = providers.Active.Complete(callCtx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("provider %s returned an empty response", providers.Active.Name())
	}
	return strings.TrimSpace(resp.Content), nil
}

func formatCandidates(issues []core.Issue) string {
	var b strings.Builder
	for _, issue := range issues {
		desc := issue.Description
		if utf8.RuneCountInString(desc) > maxCandidateDescLength {
			desc = string([]rune(desc)[:maxCandidateDescLength]) + "..."
		}
		fmt.Fprintf(&b, "- id: %s\n  title: %s\n  description: %s\n", issue.ID, issue.Title, strings.ReplaceAll(desc, "\n", " "))
	}
	return b.String()
}

func (g *Gateway) logInfo(msg string, fields ...zap.Field) {
	if g.Logger != nil {
		g.Logger.Info(msg, fields...)
	}
}

func (g *Gateway) logWarn(msg string, fields ...zap.Field) {
	if g.Logger != nil {
		g.Logger.Warn(msg, fields...)
	}
}

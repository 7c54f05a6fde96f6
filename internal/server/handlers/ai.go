package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tracklens/tracklens/internal/core"
	apperrors "github.com/tracklens/tracklens/internal/errors"
	"github.com/tracklens/tracklens/internal/gateway"
	"github.com/tracklens/tracklens/internal/gateway/driver"
)

// UserIDHeader carries the caller identity used for per-user quotas.
const UserIDHeader = "X-User-ID"

// AIHandler exposes the AI gateway operations over HTTP.
type AIHandler struct {
	Gateway *gateway.Gateway

	// ReloadConfig re-reads gateway configuration for the reload endpoint.
	ReloadConfig func() (gateway.Config, error)
}

// SummaryResponse is the body returned by the summary endpoint.
type SummaryResponse struct {
	IssueID string `json:"issue_id"`
	Summary string `json:"summary"`
}

// SuggestionsResponse is the body returned by the suggestions endpoint.
type SuggestionsResponse struct {
	IssueID     string `json:"issue_id"`
	Suggestions string `json:"suggestions"`
}

// DuplicatesRequest is the body accepted by the duplicate detection endpoint.
type DuplicatesRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DuplicatesResponse is the body returned by the duplicate detection endpoint.
type DuplicatesResponse struct {
	ProjectID  string                `json:"project_id"`
	Duplicates []core.DuplicateMatch `json:"duplicates"`
}

// AutoLabelRequest is the optional body accepted by the autolabel endpoint.
type AutoLabelRequest struct {
	ProjectID string `json:"project_id,omitempty"`
}

// AutoLabelResponse is the body returned by the autolabel endpoint.
type AutoLabelResponse struct {
	IssueID string       `json:"issue_id"`
	Labels  []core.Label `json:"labels"`
}

// QuotaResponse is the body returned by the quota endpoint.
type QuotaResponse struct {
	UserID    string `json:"user_id"`
	Endpoint  string `json:"endpoint"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// ReloadResponse is the body returned by the reload endpoint.
type ReloadResponse struct {
	gateway.ProviderStatus
}

// Summary handles POST /api/issues/{issueID}/summary
func (h *AIHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	issueID := chi.URLParam(r, "issueID")

	summary, err := h.Gateway.GenerateSummary(r.Context(), issueID, userID)
	if err != nil {
		respondWithGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryResponse{IssueID: issueID, Summary: summary})
}

// Suggestions handles POST /api/issues/{issueID}/suggestions
func (h *AIHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	issueID := chi.URLParam(r, "issueID")

	suggestions, err := h.Gateway.GenerateSuggestions(r.Context(), issueID, userID)
	if err != nil {
		respondWithGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuggestionsResponse{IssueID: issueID, Suggestions: suggestions})
}

// Duplicates handles POST /api/projects/{projectID}/duplicates
func (h *AIHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req DuplicatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("request body must be JSON with title and description"))
		return
	}

	matches := h.Gateway.DetectDuplicates(r.Context(), projectID, req.Title, req.Description)
	writeJSON(w, http.StatusOK, DuplicatesResponse{ProjectID: projectID, Duplicates: matches})
}

// AutoLabel handles POST /api/issues/{issueID}/autolabel
func (h *AIHandler) AutoLabel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	issueID := chi.URLParam(r, "issueID")

	// The body is optional; without it the issue's own project is used.
	var req AutoLabelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, r, apperrors.NewInvalidInputError("request body must be JSON"))
			return
		}
	}

	labels, err := h.Gateway.AutoLabel(r.Context(), issueID, req.ProjectID, userID)
	if err != nil {
		respondWithGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AutoLabelResponse{IssueID: issueID, Labels: labels})
}

// Quota handles GET /api/ai/quota?endpoint=summary
func (h *AIHandler) Quota(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	switch endpoint {
	case gateway.EndpointSummary, gateway.EndpointSuggestions, gateway.EndpointAutoLabel:
	default:
		respondWithError(w, r, apperrors.NewValidationError(
			fmt.Sprintf("endpoint must be one of %s, %s, %s",
				gateway.EndpointSummary, gateway.EndpointSuggestions, gateway.EndpointAutoLabel)))
		return
	}

	remaining, err := h.Gateway.RemainingRequests(r.Context(), userID, endpoint)
	if err != nil {
		respondWithGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{
		UserID:    userID,
		Endpoint:  endpoint,
		Remaining: remaining,
		Limit:     h.Gateway.Limiter().MaxRequests,
	})
}

// Reload handles POST /api/ai/reload
func (h *AIHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.ReloadConfig == nil {
		respondWithError(w, r, apperrors.NewInternalError("configuration reload is not wired"))
		return
	}

	cfg, err := h.ReloadConfig()
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "failed to reload configuration"))
		return
	}

	status := h.Gateway.Reinitialize(cfg)
	writeJSON(w, http.StatusOK, ReloadResponse{ProviderStatus: status})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError(UserIDHeader+" header is required"))
		return "", false
	}
	return userID, true
}

// respondWithGatewayError translates gateway taxonomy errors into HTTP
// error envelopes, attaching Retry-After guidance for quota rejections.
func respondWithGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *gateway.RateLimitError
	if errors.As(err, &rl) {
		seconds := int(rl.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))

		envelope := apperrors.NewRateLimitExceededError("rate limit exceeded for " + rl.Endpoint)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"endpoint":            rl.Endpoint,
			"retry_after_seconds": seconds,
		})
		respondWithError(w, r, envelope)
		return
	}

	var nf *gateway.NotFoundError
	if errors.As(err, &nf) {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), nf, nf.Error()))
		return
	}

	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		respondWithError(w, r, apperrors.NewNotConfiguredError("no AI provider is configured"))
	case errors.Is(err, gateway.ErrDescriptionTooShort):
		respondWithError(w, r, apperrors.NewDescriptionTooShortError("issue description is too short to analyze"))
	default:
		respondWithError(w, r, providerEnvelope(r.Context(), err))
	}
}

func providerEnvelope(ctx context.Context, err error) error {
	var pe *driver.ProviderError
	if errors.As(err, &pe) {
		msg := fmt.Sprintf("provider %s request failed", pe.Provider)
		if pe.IsTransient() {
			envelope := apperrors.NewProviderUnavailableError(msg)
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"provider":    pe.Provider,
				"status_code": pe.StatusCode,
			})
			return envelope
		}
		envelope := apperrors.WrapProviderError(ctx, err, msg)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"provider":    pe.Provider,
			"status_code": pe.StatusCode,
		})
		return envelope
	}

	if driver.IsTransient(err) {
		return apperrors.NewProviderUnavailableError("provider request timed out or failed transiently")
	}
	return apperrors.WrapInternal(ctx, err, "ai operation failed")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package core

import "time"

// Issue is the minimal issue projection the AI gateway works with.
type Issue struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Label is a project-scoped label definition.
type Label struct {
	ID        string `json:"id"`
	ProjectID string `json:"-"`
	Name      string `json:"name"`
}

// AICacheEntry holds generated results for one issue, keyed by a content
// hash of the description at generation time. An empty Summary or
// Suggestions field means "not generated" (or invalidated by an edit).
type AICacheEntry struct {
	IssueID         string
	Summary         string
	Suggestions     string
	DescriptionHash string
	UpdatedAt       time.Time
}

// DuplicateMatch is one candidate duplicate returned by duplicate detection.
type DuplicateMatch struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// RateLimitUsage summarizes consumed quota for one (user, endpoint) pair.
type RateLimitUsage struct {
	UserID   string    `json:"user_id"`
	Endpoint string    `json:"endpoint"`
	Count    int       `json:"count"`
	Oldest   time.Time `json:"oldest"`
	Newest   time.Time `json:"newest"`
}

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tracklens/tracklens/internal/core"
)

// extractJSON strips markdown code fences that models sometimes wrap around
// JSON payloads despite instructions.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// parseDuplicates decodes a duplicate-detection response and keeps matches
// above minSimilarity, capped at limit. JSON-mode providers return the
// prompted object envelope; a bare array is also accepted because models
// drop the envelope when format constraints are off.
func parseDuplicates(raw string, minSimilarity float64, limit int) ([]core.DuplicateMatch, error) {
	payload := extractJSON(raw)

	var matches []core.DuplicateMatch
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &matches); err != nil {
			return nil, fmt.Errorf("decode duplicates: %w", err)
		}
	} else {
		var envelope struct {
			Matches []core.DuplicateMatch `json:"matches"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			return nil, fmt.Errorf("decode duplicates: %w", err)
		}
		matches = envelope.Matches
	}

	kept := make([]core.DuplicateMatch, 0, limit)
	for _, m := range matches {
		if m.Similarity <= minSimilarity || strings.TrimSpace(m.ID) == "" {
			continue
		}
		kept = append(kept, m)
		if len(kept) == limit {
			break
		}
	}
	return kept, nil
}

// parseLabelNames decodes a label-suggestion response into a name list.
// Accepts the prompted {"labels": [...]} envelope or a bare array.
func parseLabelNames(raw string) ([]string, error) {
	payload := extractJSON(raw)

	if strings.HasPrefix(payload, "[") {
		var names []string
		if err := json.Unmarshal([]byte(payload), &names); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
		return names, nil
	}

	var envelope struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	return envelope.Labels, nil
}

// matchLabels intersects suggested names with the project's label set,
// case-insensitively, dropping duplicates and unknown names.
func matchLabels(names []string, labels []core.Label) []core.Label {
	byName := make(map[string]core.Label, len(labels))
	for _, l := range labels {
		byName[strings.ToLower(l.Name)] = l
	}

	matched := make([]core.Label, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if label, ok := byName[key]; ok {
			matched = append(matched, label)
		}
	}
	return matched
}

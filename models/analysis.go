package models

import (
	"strconv"
	"strings"
)

// Canonical color modes. Nothing with an alpha or palette channel survives
// normalization.
const (
	ColorModeRGB  = "rgb"
	ColorModeGray = "gray"
)

// InjuryImage holds the canonical (normalized) form of an uploaded or
// captured photograph. Data is always a JPEG encoding of the flattened
// pixels. A new upload replaces the previous image wholesale.
type InjuryImage struct {
	Data      []byte
	Width     int
	Height    int
	ColorMode string
}

// AnalysisResult is the structured outcome of one analyzer invocation.
// It is immutable after creation; the next analysis supersedes it.
type AnalysisResult struct {
	Condition string            `json:"condition"`
	Severity  int               `json:"severity_score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CoerceSeverity maps whatever the upstream model supplied into [1,10].
// Absent or non-numeric values yield DefaultSeverity; numeric values are
// truncated to an integer and clamped.
func CoerceSeverity(raw interface{}) int {
	switch v := raw.(type) {
	case nil:
		return DefaultSeverity
	case float64:
		return clampSeverity(int(v))
	case int:
		return clampSeverity(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultSeverity
		}
		return clampSeverity(int(f))
	default:
		return DefaultSeverity
	}
}

func clampSeverity(n int) int {
	if n < SeverityMin {
		return SeverityMin
	}
	if n > SeverityMax {
		return SeverityMax
	}
	return n
}

// Escalated reports whether this result crosses the escalation threshold.
func (r *AnalysisResult) Escalated() bool {
	return r.Severity > EscalationThreshold
}

// FirstAidGuidance is instructional text keyed to exactly one
// AnalysisResult. It never exists without one.
type FirstAidGuidance struct {
	Text string `json:"text"`
}

// Navigation link providers, in precedence order.
const (
	NavProviderMappls = "mappls"
	NavProviderGMaps  = "gmaps"
)

// NavigationLink is a tagged choice between provider-specific directions
// URLs. Each hospital carries exactly one.
type NavigationLink struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// Hospital is one entry of a search batch. Batches are immutable and
// distance-sorted ascending; a new search replaces the prior batch.
type Hospital struct {
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	Lat         float64        `json:"lat"`
	Lng         float64        `json:"lng"`
	DistanceKm  float64        `json:"distance_km"`
	Distance    string         `json:"distance"`
	Phone       string         `json:"phone,omitempty"`
	Specialties []string       `json:"specialties,omitempty"`
	Emergency   bool           `json:"emergency"`
	Navigation  NavigationLink `json:"navigation"`
}

package models

// SessionState tracks where the triage pipeline currently is. Transitions
// are owned by the session controller; nothing else mutates state.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateImageReady     SessionState = "image_ready"
	StateAnalyzing      SessionState = "analyzing"
	StateAnalysisReady  SessionState = "analysis_ready"
	StateEscalated      SessionState = "escalated"
	StateHospitalsReady SessionState = "hospitals_ready"
)

const (
	// MaxImageBytes is the upload cap enforced before any decode attempt.
	MaxImageBytes = 200 << 20

	// DefaultSeverity is used when the upstream model omits a severity
	// score or returns something non-numeric. It is an explicit default,
	// never a disguised error state.
	DefaultSeverity = 5

	SeverityMin = 1
	SeverityMax = 10

	// EscalationThreshold: severity strictly above this surfaces the
	// hospital-search follow-up.
	EscalationThreshold = 7

	MinRadiusKm     = 1.0
	MaxRadiusKm     = 20.0
	DefaultRadiusKm = 5.0
)

// Fallback coordinate (IITM Janakpuri, New Delhi) used until the client
// reports a successful geolocation.
const (
	DefaultLatitude  = 28.610532
	DefaultLongitude = 77.101927
)

// UserLocation is the search center for hospital lookups. Only an explicit,
// successful geolocation event replaces the default.
type UserLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DefaultLocation returns the fixed fallback coordinate.
func DefaultLocation() UserLocation {
	return UserLocation{Lat: DefaultLatitude, Lng: DefaultLongitude}
}

// TurnRole identifies the author of a chat turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ChatTurn is one entry of the append-only chat history. Turns are never
// mutated in place and never reordered.
type ChatTurn struct {
	Role    TurnRole `json:"role"`
	Content string   `json:"content"`
}

package pulsewatch

import "time"

// Incident is one dispatched call. This is the stable public type; internal
// representations may change without breaking consumers.
type Incident struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	SourceName    string    `json:"source_name"`
	CallType      string    `json:"call_type"`
	CallTypeLabel string    `json:"call_type_label"`
	Address       string    `json:"address"`
	Latitude      string    `json:"latitude"`
	Longitude     string    `json:"longitude"`
	Received      string    `json:"received,omitempty"` // ISO-8601
	AlarmLevel    string    `json:"alarm_level,omitempty"`
	Units         []Unit    `json:"units"`
	FetchedAt     time.Time `json:"fetched_at"`
	Active        bool      `json:"active"`
}

// Unit is one apparatus assigned to an incident.
type Unit struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StatusLabel string `json:"status_label"`
	Color       string `json:"color"`
	// Active is false only for statuses known to be off the incident.
	// Unknown status codes count as active.
	Active bool `json:"active"`
}

// UnitStatus is a unit of an active incident, tagged with its parent.
type UnitStatus struct {
	Unit
	IncidentID string    `json:"incident_id"`
	SourceID   string    `json:"source_id"`
	LastUpdate time.Time `json:"last_update"`
}

// Source is one polled agency. LastPoll is the time of the latest attempt,
// successful or not; a stale value means the agency has stopped answering.
type Source struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Region   string    `json:"region,omitempty"`
	LastPoll time.Time `json:"last_poll"`
}

// Snapshot is the result of one cycle over every configured source.
type Snapshot struct {
	CycleID     string     `json:"cycle_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Active      []Incident `json:"active"`
	Recent      []Incident `json:"recent"`

	Units   []UnitStatus      `json:"units"`
	Sources map[string]Source `json:"sources"`
}

package model

import "time"

// Source describes one upstream agency feed.
type Source struct {
	ID           string    `json:"id" yaml:"id"`
	DisplayName  string    `json:"name" yaml:"name"`
	Region       string    `json:"region,omitempty" yaml:"region"`
	Enabled      bool      `json:"enabled" yaml:"-"`
	LastPollTime time.Time `json:"last_poll,omitempty" yaml:"-"`
}

// Snapshot is the complete result of one poll cycle. It always replaces the
// previous snapshot as a whole.
type Snapshot struct {
	CycleID         string            `json:"cycle_id,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
	ActiveIncidents []Incident        `json:"active_incidents"`
	RecentIncidents []Incident        `json:"recent_incidents"`
	UnitStatus      []UnitStatus      `json:"unit_status"`
	Sources         map[string]Source `json:"sources"`
}

// EmptySnapshot returns a snapshot with non-nil collections, suitable as the
// value served before the first cycle has published.
func EmptySnapshot() Snapshot {
	return Snapshot{
		ActiveIncidents: []Incident{},
		RecentIncidents: []Incident{},
		UnitStatus:      []UnitStatus{},
		Sources:         map[string]Source{},
	}
}

// UnitStatusFrom flattens the units of the given incidents, tagging each with
// its parent incident and source. Order follows incident order, then unit order.
func UnitStatusFrom(incidents []Incident, at time.Time) []UnitStatus {
	out := []UnitStatus{}
	for _, inc := range incidents {
		for _, u := range inc.Units {
			out = append(out, UnitStatus{
				Unit:       u,
				IncidentID: inc.IncidentID,
				SourceID:   inc.SourceID,
				LastUpdate: at,
			})
		}
	}
	return out
}

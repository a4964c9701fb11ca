package model

import (
	"strings"
	"time"
)

// Incident is the canonical, provider-independent shape of one upstream incident.
// Identity is (IncidentID, SourceID).
type Incident struct {
	IncidentID    string    `json:"incident_id"`
	SourceID      string    `json:"source_id"`
	SourceName    string    `json:"source_name"`
	CallTypeCode  string    `json:"call_type_code"`
	CallTypeLabel string    `json:"call_type_label"`
	Address       string    `json:"address"`
	Latitude      string    `json:"latitude"`
	Longitude     string    `json:"longitude"`
	ReceivedTime  string    `json:"received_time"` // ISO-8601, or empty
	AlarmLevel    string    `json:"alarm_level"`
	Units         []Unit    `json:"units"`
	FetchedAt     time.Time `json:"fetched_at"`
	IsActive      bool      `json:"is_active"`
}

// Unit is one apparatus assigned to an incident.
type Unit struct {
	UnitID      string `json:"unit_id"`
	StatusCode  string `json:"status_code"`
	StatusLabel string `json:"status_label"`
	StatusColor string `json:"status_color"`
	Active      bool   `json:"active"`
}

// UnitStatus is a Unit flattened out of an active incident, tagged with its parent.
type UnitStatus struct {
	Unit
	IncidentID string    `json:"incident_id"`
	SourceID   string    `json:"source_id"`
	LastUpdate time.Time `json:"last_update"`
}

// Key returns the identity of the incident.
func (i Incident) Key() string {
	return i.SourceID + "/" + i.IncidentID
}

// UnitCount returns the number of units assigned to the incident.
func (i Incident) UnitCount() int {
	return len(i.Units)
}

// UnitsDisplay joins the unit ids with ", ", e.g. "E1, M1".
func (i Incident) UnitsDisplay() string {
	ids := make([]string, len(i.Units))
	for n, u := range i.Units {
		ids[n] = u.UnitID
	}
	return strings.Join(ids, ", ")
}

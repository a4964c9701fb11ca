package sink

import (
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
)

// IncidentRow is an incident with the derived display columns sinks expose.
type IncidentRow struct {
	model.Incident
	UnitsDisplay string `json:"units_display"`
	UnitCount    int    `json:"unit_count"`
}

// Document is the serialized form of a snapshot used by the file, stdout,
// webhook and redis sinks.
type Document struct {
	CycleID         string                  `json:"cycle_id,omitempty"`
	LastUpdated     *time.Time              `json:"last_updated"`
	ActiveIncidents []IncidentRow           `json:"active_incidents"`
	RecentIncidents []IncidentRow           `json:"recent_incidents"`
	UnitStatus      []model.UnitStatus      `json:"unit_status"`
	Agencies        map[string]model.Source `json:"agencies"`
}

// EmptyDocument returns a document with non-nil collections and no timestamp.
func EmptyDocument() Document {
	return Document{
		ActiveIncidents: []IncidentRow{},
		RecentIncidents: []IncidentRow{},
		UnitStatus:      []model.UnitStatus{},
		Agencies:        map[string]model.Source{},
	}
}

// FormatSnapshot converts s into its serialized document form.
func FormatSnapshot(s model.Snapshot) Document {
	d := EmptyDocument()
	d.CycleID = s.CycleID
	if !s.GeneratedAt.IsZero() {
		at := s.GeneratedAt.UTC()
		d.LastUpdated = &at
	}
	d.ActiveIncidents = rows(s.ActiveIncidents)
	d.RecentIncidents = rows(s.RecentIncidents)
	if s.UnitStatus != nil {
		d.UnitStatus = s.UnitStatus
	}
	for id, src := range s.Sources {
		d.Agencies[id] = src
	}
	return d
}

// Snapshot converts a document back into a snapshot.
func (d Document) Snapshot() model.Snapshot {
	s := model.EmptySnapshot()
	s.CycleID = d.CycleID
	if d.LastUpdated != nil {
		s.GeneratedAt = *d.LastUpdated
	}
	for _, r := range d.ActiveIncidents {
		s.ActiveIncidents = append(s.ActiveIncidents, r.Incident)
	}
	for _, r := range d.RecentIncidents {
		s.RecentIncidents = append(s.RecentIncidents, r.Incident)
	}
	if d.UnitStatus != nil {
		s.UnitStatus = d.UnitStatus
	}
	for id, src := range d.Agencies {
		s.Sources[id] = src
	}
	return s
}

func rows(incidents []model.Incident) []IncidentRow {
	out := make([]IncidentRow, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, IncidentRow{
			Incident:     inc,
			UnitsDisplay: inc.UnitsDisplay(),
			UnitCount:    inc.UnitCount(),
		})
	}
	return out
}

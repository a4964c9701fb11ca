// Package normalize maps upstream incident records onto the canonical model.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/crimson-sun/pulsewatch/internal/decode"
	"github.com/crimson-sun/pulsewatch/internal/model"
)

// ErrNotSequence is returned when a record class is not an array.
var ErrNotSequence = errors.New("normalize: record class is not a sequence")

// Class selects which upstream record list to normalize.
type Class string

const (
	Active Class = "active"
	Recent Class = "recent"
)

// Upstream field names.
const (
	fieldID           = "ID"
	fieldCallType     = "PulsePointIncidentCallType"
	fieldAddress      = "FullDisplayAddress"
	fieldLatitude     = "Latitude"
	fieldLongitude    = "Longitude"
	fieldReceived     = "CallReceivedDateTime"
	fieldAlarmLevel   = "AlarmLevel"
	fieldUnits        = "Unit"
	fieldUnitID       = "UnitID"
	fieldUnitStatus   = "PulsePointDispatchStatus"
	defaultCallType   = "UNK"
	defaultUnitID     = "Unknown"
	localReceivedTime = "2006-01-02T15:04:05"
)

// Result is the output of one Normalize call.
type Result struct {
	Incidents []model.Incident
	// Skipped counts records dropped for lacking an id or not being objects.
	Skipped int
	// DroppedUnits counts unit entries that were not objects.
	DroppedUnits int
}

// Normalizer converts decoded record sets into canonical incidents.
// It performs no I/O and is safe for concurrent use.
type Normalizer struct {
	tables *Tables
	now    func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer over the given lookup tables.
func New(tables *Tables, opts ...Option) *Normalizer {
	n := &Normalizer{tables: tables, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps every record in the requested class. Malformed records are
// skipped and counted; only a class that is not an array is an error.
func (n *Normalizer) Normalize(rs decode.RecordSet, sourceID, sourceName string, class Class) (Result, error) {
	raw, err := rs.Class(string(class))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNotSequence, err)
	}

	fetchedAt := n.now().UTC()
	res := Result{Incidents: make([]model.Incident, 0, len(raw))}
	for _, v := range raw {
		rec, ok := decode.AsRecord(v)
		if !ok {
			res.Skipped++
			continue
		}
		inc, dropped, ok := n.incident(rec)
		if !ok {
			res.Skipped++
			continue
		}
		inc.SourceID = sourceID
		inc.SourceName = sourceName
		inc.FetchedAt = fetchedAt
		inc.IsActive = class == Active
		res.DroppedUnits += dropped
		res.Incidents = append(res.Incidents, inc)
	}
	return res, nil
}

func (n *Normalizer) incident(rec decode.Record) (model.Incident, int, bool) {
	id := clean(rec.String(fieldID))
	if id == "" {
		return model.Incident{}, 0, false
	}
	rawUnits, err := rec.List(fieldUnits)
	if err != nil {
		return model.Incident{}, 0, false
	}

	units := make([]model.Unit, 0, len(rawUnits))
	dropped := 0
	for _, v := range rawUnits {
		u, ok := decode.AsRecord(v)
		if !ok {
			dropped++
			continue
		}
		units = append(units, n.unit(u))
	}

	code := clean(rec.StringOr(fieldCallType, defaultCallType))
	return model.Incident{
		IncidentID:    id,
		CallTypeCode:  code,
		CallTypeLabel: n.tables.CallTypeLabel(code),
		Address:       clean(rec.String(fieldAddress)),
		Latitude:      clean(rec.String(fieldLatitude)),
		Longitude:     clean(rec.String(fieldLongitude)),
		ReceivedTime:  receivedTime(rec.String(fieldReceived)),
		AlarmLevel:    clean(rec.String(fieldAlarmLevel)),
		Units:         units,
	}, dropped, true
}

func (n *Normalizer) unit(rec decode.Record) model.Unit {
	code := clean(rec.String(fieldUnitStatus))
	st, _ := n.tables.Status(code)
	return model.Unit{
		UnitID:      clean(rec.StringOr(fieldUnitID, defaultUnitID)),
		StatusCode:  code,
		StatusLabel: st.Label,
		StatusColor: st.Color,
		Active:      st.Active,
	}
}

// receivedTime returns s as RFC 3339 in UTC when it carries a zone, verbatim
// when it is a zone-less ISO-8601 local time, and "" otherwise.
func receivedTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if _, err := time.Parse(localReceivedTime, s); err == nil {
		return s
	}
	return ""
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

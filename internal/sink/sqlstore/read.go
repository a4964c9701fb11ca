package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crimson-sun/pulsewatch/internal/model"
)

// Latest reads back the stored snapshot. Before the first replace it returns
// an empty snapshot.
func (s *Store) Latest(ctx context.Context) (model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("latest: begin: %w", err)
	}
	defer tx.Rollback()

	snap := model.EmptySnapshot()

	var generatedAt string
	err = tx.QueryRowContext(ctx, `SELECT cycle_id, generated_at FROM snapshot_meta WHERE id = 1`).
		Scan(&snap.CycleID, &generatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("latest: meta: %w", err)
	}
	snap.GeneratedAt = parseTime(generatedAt)

	if snap.ActiveIncidents, err = readIncidents(ctx, tx, classActive); err != nil {
		return model.Snapshot{}, err
	}
	if snap.RecentIncidents, err = readIncidents(ctx, tx, classRecent); err != nil {
		return model.Snapshot{}, err
	}
	if snap.UnitStatus, err = readUnits(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Sources, err = readSources(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

func readIncidents(ctx context.Context, tx *sql.Tx, class string) ([]model.Incident, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT incident_id, source_id, source_name, call_type_code, call_type_label,
		       address, latitude, longitude, received_time, alarm_level, units, fetched_at
		FROM incidents WHERE class = $1 ORDER BY position`, class)
	if err != nil {
		return nil, fmt.Errorf("latest: %s incidents: %w", class, err)
	}
	defer rows.Close()

	out := []model.Incident{}
	for rows.Next() {
		var inc model.Incident
		var units, fetchedAt string
		if err := rows.Scan(&inc.IncidentID, &inc.SourceID, &inc.SourceName, &inc.CallTypeCode,
			&inc.CallTypeLabel, &inc.Address, &inc.Latitude, &inc.Longitude, &inc.ReceivedTime,
			&inc.AlarmLevel, &units, &fetchedAt); err != nil {
			return nil, fmt.Errorf("latest: scan incident: %w", err)
		}
		if err := json.Unmarshal([]byte(units), &inc.Units); err != nil {
			return nil, fmt.Errorf("latest: incident %s units: %w", inc.IncidentID, err)
		}
		inc.FetchedAt = parseTime(fetchedAt)
		inc.IsActive = class == classActive
		out = append(out, inc)
	}
	return out, rows.Err()
}

func readUnits(ctx context.Context, tx *sql.Tx) ([]model.UnitStatus, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT unit_id, status_code, status_label, status_color, active, incident_id, source_id, last_update
		FROM unit_status ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("latest: unit status: %w", err)
	}
	defer rows.Close()

	out := []model.UnitStatus{}
	for rows.Next() {
		var u model.UnitStatus
		var active int
		var lastUpdate string
		if err := rows.Scan(&u.UnitID, &u.StatusCode, &u.StatusLabel, &u.StatusColor, &active,
			&u.IncidentID, &u.SourceID, &lastUpdate); err != nil {
			return nil, fmt.Errorf("latest: scan unit: %w", err)
		}
		u.Active = active != 0
		u.LastUpdate = parseTime(lastUpdate)
		out = append(out, u)
	}
	return out, rows.Err()
}

func readSources(ctx context.Context, tx *sql.Tx) (map[string]model.Source, error) {
	rows, err := tx.QueryContext(ctx, `SELECT source_id, name, region, last_poll FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("latest: sources: %w", err)
	}
	defer rows.Close()

	out := map[string]model.Source{}
	for rows.Next() {
		var src model.Source
		var lastPoll string
		if err := rows.Scan(&src.ID, &src.DisplayName, &src.Region, &lastPoll); err != nil {
			return nil, fmt.Errorf("latest: scan source: %w", err)
		}
		src.LastPollTime = parseTime(lastPoll)
		out[src.ID] = src
	}
	return out, rows.Err()
}

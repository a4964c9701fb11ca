package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/pulsewatch/internal/model"
)

// SourceEntry is one agency in a sources file. Enabled defaults to true.
type SourceEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Region  string `yaml:"region"`
	Enabled *bool  `yaml:"enabled"`
}

type sourcesFile struct {
	Agencies []SourceEntry `yaml:"agencies"`
}

// DefaultSources is the built-in agency list used when no sources file is set.
func DefaultSources() []model.Source {
	return []model.Source{
		{ID: "00057", DisplayName: "Clackamas Fire District #1", Region: "Clackamas County", Enabled: true},
		{ID: "00291", DisplayName: "Portland Fire & Rescue", Region: "Multnomah County", Enabled: true},
		{ID: "00485", DisplayName: "Tualatin Valley Fire & Rescue", Region: "Washington County", Enabled: true},
		{ID: "40210", DisplayName: "Lake Oswego Fire Department", Region: "Clackamas County", Enabled: true},
	}
}

// LoadSources reads a YAML or JSON sources file of the form
// {agencies: [{id, name, region, enabled}]}, preserving file order.
func LoadSources(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Agencies))
	out := make([]model.Source, 0, len(f.Agencies))
	for i, e := range f.Agencies {
		if e.ID == "" {
			return nil, fmt.Errorf("sources %s: agencies[%d]: id is required", path, i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("sources %s: duplicate agency id %q", path, e.ID)
		}
		seen[e.ID] = true
		out = append(out, model.Source{
			ID:          e.ID,
			DisplayName: e.Name,
			Region:      e.Region,
			Enabled:     e.Enabled == nil || *e.Enabled,
		})
	}
	return out, nil
}

// EnabledSources picks the sources to poll, in poll order. When ids is
// non-empty it decides both membership and order, and ids missing from all
// get the name "Agency <id>". Otherwise every enabled entry of all is used.
func EnabledSources(all []model.Source, ids []string) []model.Source {
	if len(ids) == 0 {
		out := []model.Source{}
		for _, src := range all {
			if src.Enabled {
				out = append(out, src)
			}
		}
		return out
	}

	byID := make(map[string]model.Source, len(all))
	for _, src := range all {
		byID[src.ID] = src
	}
	out := make([]model.Source, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		src, ok := byID[id]
		if !ok {
			src = model.Source{ID: id, DisplayName: "Agency " + id}
		}
		src.Enabled = true
		out = append(out, src)
	}
	return out
}

// Sources loads the bootstrap list (SourcesFile, or the built-in defaults)
// and returns the enabled subset.
func (c Config) Sources() ([]model.Source, error) {
	all := DefaultSources()
	if c.SourcesFile != "" {
		var err error
		if all, err = LoadSources(c.SourcesFile); err != nil {
			return nil, err
		}
	}
	return EnabledSources(all, c.EnabledSources), nil
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"swarmfuse/internal/risk"
)

// History is the optional entity-risk input: change events for co-change
// clustering, per-entity stats for scoring, and the external context maps
// fusion consumes.
type History struct {
	Events    [][]string         `json:"events"`
	Entities  []risk.EntityStats `json:"entities"`
	Caution   map[string]float64 `json:"caution,omitempty"`
	Ownership map[string]float64 `json:"ownership,omitempty"`
	FanIn     map[string]int     `json:"fanin,omitempty"`
}

// LoadHistory reads a history JSON file.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return &h, nil
}

package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Model describes one external worker. Identity and equality are by Name
// alone; the registry enforces uniqueness.
type Model struct {
	Name        string        `json:"name" yaml:"name"`
	Provider    string        `json:"provider" yaml:"provider"`
	CostPerMTok float64       `json:"cost_per_million_tokens" yaml:"cost_per_million_tokens"`
	AvgLatency  time.Duration `json:"avg_response_time" yaml:"avg_response_time"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
}

// Validate rejects descriptors that could corrupt routing math.
func (m Model) Validate() error {
	if m.Name == "" {
		return eris.New("model: descriptor name is empty")
	}
	if m.CostPerMTok < 0 {
		return eris.Errorf("model: %s has negative cost %v", m.Name, m.CostPerMTok)
	}
	if m.AvgLatency <= 0 {
		return eris.Errorf("model: %s has non-positive avg response time %v", m.Name, m.AvgLatency)
	}
	return nil
}

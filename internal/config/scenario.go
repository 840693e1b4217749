package config

import (
	"bytes"
	"fmt"
	"os"

	"aquacore/pkg/domain"

	"gopkg.in/yaml.v3"
)

// LoadScenario reads a GrowthScenario from a YAML file and validates it.
func LoadScenario(path string) (domain.GrowthScenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.GrowthScenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes a YAML scenario document. Unknown keys are rejected
// so typos in model names do not silently fall back to defaults.
func ParseScenario(raw []byte) (domain.GrowthScenario, error) {
	var sc domain.GrowthScenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return domain.GrowthScenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return domain.GrowthScenario{}, err
	}
	return sc, nil
}

// MarshalScenario renders a scenario as YAML.
func MarshalScenario(sc domain.GrowthScenario) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(sc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

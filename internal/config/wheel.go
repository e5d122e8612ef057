package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
)

type wheelFile struct {
	Segments []models.WheelSegment `yaml:"segments"`
}

// LoadWheel reads a segment table from YAML and validates it. An empty path
// yields the built-in table.
func LoadWheel(path string) ([]models.WheelSegment, error) {
	if path == "" {
		return append([]models.WheelSegment(nil), lottery.DefaultSegments...), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wheel config: %w", err)
	}
	return ParseWheel(data)
}

func ParseWheel(data []byte) ([]models.WheelSegment, error) {
	var f wheelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse wheel config: %w", err)
	}
	if err := lottery.Validate(f.Segments); err != nil {
		return nil, err
	}
	return f.Segments, nil
}

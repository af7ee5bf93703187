package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/redmansion/progression-engine/internal/domain/progression"
)

// levelFile is the YAML layout of a level table:
//
//	levels:
//	  - level: 0
//	    title: Newcomer
//	    xp_threshold: 0
//	  - level: 1
//	    title: Reader
//	    xp_threshold: 100
//	    unlocked_content: [chapters-1-10]
type levelFile struct {
	Levels []progression.LevelDefinition `yaml:"levels"`
}

// LoadLevelCurve reads and validates a YAML level table.
func LoadLevelCurve(path string) (*progression.LevelCurve, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level file: %w", err)
	}
	return ParseLevelCurve(data)
}

// ParseLevelCurve decodes a YAML level table. Unknown keys are rejected.
func ParseLevelCurve(data []byte) (*progression.LevelCurve, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file levelFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("level file is empty")
		}
		return nil, fmt.Errorf("decode level file: %w", err)
	}

	curve, err := progression.NewLevelCurve(file.Levels)
	if err != nil {
		return nil, err
	}
	return curve, nil
}

// MarshalLevelCurve renders a curve in the format ParseLevelCurve reads.
func MarshalLevelCurve(curve *progression.LevelCurve) ([]byte, error) {
	return yaml.Marshal(levelFile{Levels: curve.Levels()})
}

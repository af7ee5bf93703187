package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/domain/progression"
)

// reseedFile is the YAML layout read by the reseed command:
//
//	awards:
//	  - user_id: reader-1
//	    amount: 50
//	    source: reading
//	    source_id: chapter-1
//	    reason: backfill
//	    attributes: {insight: 1}
type reseedFile struct {
	Awards []reseedAward `yaml:"awards"`
}

type reseedAward struct {
	UserID     string         `yaml:"user_id"`
	Amount     int64          `yaml:"amount"`
	Source     string         `yaml:"source"`
	SourceID   string         `yaml:"source_id"`
	Reason     string         `yaml:"reason"`
	Attributes map[string]int `yaml:"attributes"`
}

func loadReseedFile(path string) ([]command.AwardXPCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reseed file: %w", err)
	}
	return parseReseedFile(data)
}

// parseReseedFile decodes and validates every award up front so a bad line
// fails the whole file before anything is written.
func parseReseedFile(data []byte) ([]command.AwardXPCommand, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file reseedFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("reseed file is empty")
		}
		return nil, fmt.Errorf("decode reseed file: %w", err)
	}
	if len(file.Awards) == 0 {
		return nil, errors.New("reseed file has no awards")
	}

	cmds := make([]command.AwardXPCommand, 0, len(file.Awards))
	for i, a := range file.Awards {
		source, ok := progression.ParseSource(a.Source)
		if !ok {
			return nil, fmt.Errorf("award %d: unknown source %q", i, a.Source)
		}
		reason := a.Reason
		if reason == "" {
			reason = "reseed"
		}
		cmd := command.AwardXPCommand{
			UserID:     a.UserID,
			Amount:     a.Amount,
			Reason:     reason,
			Source:     source,
			SourceID:   a.SourceID,
			Attributes: a.Attributes,
		}
		if err := cmd.Validate(); err != nil {
			return nil, fmt.Errorf("award %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

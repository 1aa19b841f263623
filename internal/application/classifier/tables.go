package classifier

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// Tables holds every keyword list the classifier uses.
type Tables struct {
	Categories     map[string][]string    `yaml:"categories"`
	Status         map[string]StatusGroup `yaml:"status"`
	Signals        Signals                `yaml:"signals"`
	GenericDomains []string               `yaml:"generic_domains"`
	GenericLabels  []string               `yaml:"generic_labels"`
	Platforms      []Platform             `yaml:"platforms"`
}

type StatusGroup struct {
	Keywords []string `yaml:"keywords"`
	Exclude  []string `yaml:"exclude"`
}

// Signals are the extra phrases that raise confidence when they co-occur.
type Signals struct {
	Application string `yaml:"application"`
	Position    string `yaml:"position"`
	Gratitude   string `yaml:"gratitude"`
	Applying    string `yaml:"applying"`
}

// Platform is a career site. Keywords are only matched in body text;
// leave them empty for names that are ordinary words.
type Platform struct {
	Name     string   `yaml:"name"`
	Domains  []string `yaml:"domains"`
	Keywords []string `yaml:"keywords"`
}

// DefaultTables returns the tables compiled into the binary.
func DefaultTables() (*Tables, error) {
	return ParseTables(defaultKeywords)
}

// LoadTables reads tables from path, or the defaults when path is empty.
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword tables: %w", err)
	}
	return ParseTables(data)
}

func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse keyword tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tables) validate() error {
	for _, name := range categoryOrder {
		if len(t.Categories[string(name)]) == 0 {
			return fmt.Errorf("keyword tables: category %q has no keywords", name)
		}
	}
	for name := range t.Status {
		if _, ok := statusByName[name]; !ok {
			return fmt.Errorf("keyword tables: unknown status group %q", name)
		}
	}
	for _, p := range t.Platforms {
		if p.Name == "" {
			return errors.New("keyword tables: platform without name")
		}
	}
	return nil
}

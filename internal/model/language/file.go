package language

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Languages []Language `yaml:"languages"`
}

// LoadFile reads a YAML catalog of the form:
//
//	languages:
//	  - code: en
//	    name: English
func LoadFile(path string) ([]Language, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Codes must be non-empty and unique.
func Parse(data []byte) ([]Language, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse languages file: %w", err)
	}
	if len(file.Languages) == 0 {
		return nil, errors.New("languages file defines no languages")
	}

	seen := make(map[string]struct{}, len(file.Languages))
	out := make([]Language, 0, len(file.Languages))
	for i, lang := range file.Languages {
		code := strings.TrimSpace(lang.Code)
		if code == "" {
			return nil, fmt.Errorf("language %d: code is required", i)
		}
		key := strings.ToLower(code)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("language %d: duplicate code %q", i, code)
		}
		seen[key] = struct{}{}

		name := strings.TrimSpace(lang.Name)
		if name == "" {
			name = code
		}
		out = append(out, Language{Code: code, Name: name})
	}
	return out, nil
}

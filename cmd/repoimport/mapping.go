package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/repoimport/internal/core"
	"gopkg.in/yaml.v3"
)

// loadMapping reads a column mapping from a YAML file, or parses value
// itself when it is an inline YAML list or map such as "[0, -1, 12]".
func loadMapping(value string) (core.Mapping, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return parseMappingYAML([]byte(trimmed))
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return parseMappingYAML(data)
}

// parseMappingYAML accepts either a sequence of markers in column order:
//
//	- 0      # identifier
//	- -1     # name
//	- ~      # skipped
//	- 12     # column 12
//
// or a map of column index to marker:
//
//	0: 0
//	3: 12
func parseMappingYAML(data []byte) (core.Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse mapping: empty document")
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var markers []string
		if err := root.Decode(&markers); err != nil {
			return nil, fmt.Errorf("parse mapping: %w", err)
		}
		return core.ParseMapping(markers)
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := root.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("parse mapping: %w", err)
		}
		return core.MappingFromIndex(byIndex)
	}
	return nil, fmt.Errorf("parse mapping: expected a list or a map, line %d", root.Line)
}

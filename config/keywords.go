package config

import (
	"fmt"
	"os"
	"strings"
)

// LoadKeywords reads a newline-delimited keyword file. Lines are returned in
// file order exactly as split; strict drops blank lines and repeats.
func LoadKeywords(path string, strict bool) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	return SplitKeywords(string(data), strict), nil
}

// SplitKeywords splits raw file contents into keywords.
func SplitKeywords(raw string, strict bool) []string {
	lines := strings.Split(raw, "\n")
	if !strict {
		return lines
	}

	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// Package configsrc loads notification endpoints from configuration
// files. A config source ultimately produces the same (address, tags)
// pairs as direct API use; the collection does not know the difference.
//
// Two formats, chosen by extension:
//
//   - .yaml/.yml: a document with `urls:` entries and optional
//     `include:` references to further files
//   - anything else: text, one `tag1,tag2=scheme://...` or bare URL per
//     line, '#' comments
package configsrc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"megaphone/internal/collection"
)

// Document is the YAML config shape.
type Document struct {
	URLs    []URLEntry `yaml:"urls"`
	Include []string   `yaml:"include,omitempty"`
}

// URLEntry accepts both a bare URL string and the {url, tags} mapping
// form.
type URLEntry struct {
	URL  string
	Tags []string
}

func (e *URLEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.URL)
	}
	var m struct {
		URL  string    `yaml:"url"`
		Tags yaml.Node `yaml:"tags"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	e.URL = m.URL
	switch m.Tags.Kind {
	case 0:
		// absent
	case yaml.ScalarNode:
		var s string
		if err := m.Tags.Decode(&s); err != nil {
			return err
		}
		e.Tags = splitTags(s)
	case yaml.SequenceNode:
		if err := m.Tags.Decode(&e.Tags); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unsupported tags node for %q", m.URL)
	}
	return nil
}

// Load reads a config file and every include up to depth levels deep.
// depth 0 disables following includes entirely. Include cycles are
// broken silently.
func Load(path string, depth int) ([]collection.Line, error) {
	return load(path, depth, map[string]bool{})
}

func load(path string, depth int, seen map[string]bool) ([]collection.Line, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, nil
	}
	seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if ext != ".yaml" && ext != ".yml" {
		return parseText(data), nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var lines []collection.Line
	for _, e := range doc.URLs {
		if strings.TrimSpace(e.URL) == "" {
			continue
		}
		lines = append(lines, collection.Line{URL: e.URL, Tags: e.Tags})
	}

	if depth > 0 {
		base := filepath.Dir(abs)
		for _, inc := range doc.Include {
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(base, incPath)
			}
			sub, err := load(incPath, depth-1, seen)
			if err != nil {
				return nil, err
			}
			lines = append(lines, sub...)
		}
	}
	return lines, nil
}

// parseText handles the line-oriented format. Bad lines are kept as-is;
// the collection's fail-soft add reports them without blocking the rest.
func parseText(data []byte) []collection.Line {
	var lines []collection.Line
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// The '=' split for "tag1,tag2=scheme://..." only applies when
		// the left side cannot itself be a URL.
		if eq := strings.Index(line, "="); eq > 0 && !strings.Contains(line[:eq], "://") {
			lines = append(lines, collection.Line{
				URL:  strings.TrimSpace(line[eq+1:]),
				Tags: splitTags(line[:eq]),
			})
			continue
		}
		lines = append(lines, collection.Line{URL: line})
	}
	return lines
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

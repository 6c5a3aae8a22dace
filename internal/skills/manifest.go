package skills

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxManifestSize is the maximum allowed size for a SKILL.md file (1 MiB).
const maxManifestSize = 1 << 20

// Manifest is the declared identity of a skill, read from the YAML
// frontmatter of its SKILL.md.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// CanonicalSkillKey returns a normalized key used for collision detection.
func CanonicalSkillKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseManifest reads a SKILL.md: canonical YAML frontmatter first, plain
// YAML accepted as fallback for older skills.
func ParseManifest(data []byte) (Manifest, error) {
	yamlBytes, _, err := extractFrontmatter(data)
	if err != nil {
		return Manifest{}, err
	}

	if len(yamlBytes) > 0 {
		var m Manifest
		if err := yaml.Unmarshal(yamlBytes, &m); err != nil {
			return Manifest{}, fmt.Errorf("parse frontmatter yaml: %w", err)
		}
		m.Name = strings.TrimSpace(m.Name)
		m.Version = strings.TrimSpace(m.Version)
		if m.Name == "" {
			return Manifest{}, fmt.Errorf("missing skill name")
		}
		return m, nil
	}

	// Fallback: the whole file is plain YAML.
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err == nil && strings.TrimSpace(m.Name) != "" {
		m.Name = strings.TrimSpace(m.Name)
		m.Version = strings.TrimSpace(m.Version)
		return m, nil
	}

	return Manifest{}, fmt.Errorf("missing skill name")
}

// extractFrontmatter detects a canonical YAML frontmatter block: the first
// line is `---` and a second `---` line terminates the block. Anything after
// the terminating delimiter is markdown body.
func extractFrontmatter(data []byte) (yamlBytes []byte, markdownBody string, err error) {
	s := string(data)
	if s == "" {
		return nil, "", nil
	}

	firstLineEnd := strings.IndexByte(s, '\n')
	firstLine := s
	restStart := len(s)
	if firstLineEnd >= 0 {
		firstLine = s[:firstLineEnd]
		restStart = firstLineEnd + 1
	}
	firstLine = strings.TrimSpace(strings.TrimSuffix(firstLine, "\r"))
	if firstLine != "---" {
		return nil, "", nil
	}

	i := restStart
	for {
		if i > len(s) {
			break
		}

		nextNL := strings.IndexByte(s[i:], '\n')
		line := ""
		next := len(s)
		if nextNL >= 0 {
			line = s[i : i+nextNL]
			next = i + nextNL + 1
		} else {
			line = s[i:]
			next = len(s)
		}
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmed == "---" {
			return []byte(s[restStart:i]), s[next:], nil
		}

		if next == len(s) {
			break
		}
		i = next
	}

	// The author started a frontmatter block but never closed it.
	return nil, "", fmt.Errorf("unclosed frontmatter: opening --- found but no closing ---")
}

package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxNameLen = 128

// SanitizeName turns an arbitrary identifier into a single path element made
// of ASCII letters, digits, dot, underscore and dash. Runs of other
// characters collapse to one underscore.
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// JoinWithin joins dir and name, which must already be a safe single path
// element. Names that SanitizeName would rewrite are rejected so distinct
// identifiers never share a file.
func JoinWithin(dir, name string) (string, error) {
	if clean := SanitizeName(name); clean != name {
		return "", fmt.Errorf("unsafe file name %q (would be %q)", name, clean)
	}
	p := filepath.Join(dir, name)
	rel, err := filepath.Rel(filepath.Clean(dir), p)
	if err != nil {
		return "", fmt.Errorf("path outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path traversal detected: %q escapes %s", name, dir)
	}
	return p, nil
}

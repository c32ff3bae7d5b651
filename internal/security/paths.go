// Package security guards the file paths derived from user input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin joins name onto baseDir and rejects results that escape
// baseDir, including escapes through symlinked parents.
func ResolveWithin(baseDir, name string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", baseDir, err)
	}
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%q must be a relative name inside %s", name, baseDir)
	}
	joined := filepath.Join(absBase, name)

	canonBase := canonical(absBase)
	rel, err := filepath.Rel(canonBase, canonical(joined))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s escapes %s", name, baseDir)
	}
	if rel == "." {
		return "", fmt.Errorf("%q names %s itself", name, baseDir)
	}
	return joined, nil
}

// canonical resolves symlinks in the longest existing prefix of path.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for check := path; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return path
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, path)
			return filepath.Join(resolved, rest)
		}
		check = parent
	}
}

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// folding every other run of characters into one underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

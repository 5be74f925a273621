package security

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultDenyPatterns are doublestar patterns matched against both the
// basename and the root-relative form of every canonical path. They cover
// credential material, shell histories, and key directories that must stay
// unreadable even inside an allowed root.
var defaultDenyPatterns = []string{
	"*.pem",
	"*.key",
	"id_rsa*",
	"id_ed25519*",
	"id_ecdsa*",
	".env",
	".env.*",
	"*_history",
	".bash_history",
	".zsh_history",
	".ssh/**",
	".gnupg/**",
	"**/.ssh/**",
	"**/.gnupg/**",
}

// Path validates filesystem paths against the allowed-roots policy.
// Used to prevent path traversal attacks (CWE-22).
type Path struct {
	roots           []string // absolute, cleaned, symlink-resolved
	denyPatterns    []string
	caseInsensitive bool
}

// PathOption configures optional Path behavior.
type PathOption func(*Path)

// WithDenyPatterns appends extra deny patterns to the defaults.
// Used to place the server's own configuration directory off limits.
func WithDenyPatterns(patterns ...string) PathOption {
	return func(p *Path) {
		p.denyPatterns = append(p.denyPatterns, patterns...)
	}
}

// NewPath creates a path validator for the given allowed roots.
// Each root is made absolute and symlink-resolved up front so that later
// prefix checks compare canonical forms. At least one root is required.
func NewPath(roots []string, opts ...PathOption) (*Path, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one allowed root is required")
	}

	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		// A root that exists must canonicalize through its symlinks;
		// a missing root is a configuration error.
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("allowed root does not exist: %s", abs)
			}
			return nil, fmt.Errorf("resolving root %s: %w", abs, err)
		}
		resolved = append(resolved, normalizeCase(real))
	}

	p := &Path{
		roots:           resolved,
		denyPatterns:    append([]string(nil), defaultDenyPatterns...),
		caseInsensitive: runtime.GOOS == "darwin" || runtime.GOOS == "windows",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Roots returns a copy of the allowed roots in canonical form.
func (p *Path) Roots() []string {
	return append([]string(nil), p.roots...)
}

// Validate validates a file path against the policy and returns its
// canonical absolute form. The returned path has `..` segments resolved
// and symlinks followed; the caller must use it, not the input, for any
// syscall. Paths outside the allowed roots are rejected before any
// filesystem access is attempted on them.
func (p *Path) Validate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path %s: %w", path, err)
	}

	// Lexical check first: the uncanonicalized absolute form must already
	// be under a root. This rejects /etc/passwd before we ever stat it.
	if !p.underRoot(abs) {
		return "", fmt.Errorf("access denied: path %s is not within the allowed roots", abs)
	}

	// Follow symlinks and re-check, so a link inside a root cannot point
	// out of it. A missing file is acceptable (it may be about to be
	// created); its nearest existing ancestor is resolved instead.
	real, err := p.resolveExisting(abs)
	if err != nil {
		return "", err
	}
	if !p.underRoot(real) {
		return "", fmt.Errorf("access denied: %s resolves to %s, which is not within the allowed roots", abs, real)
	}

	if pattern := p.matchDeny(real); pattern != "" {
		return "", fmt.Errorf("access denied: path %s matches the deny pattern %q", real, pattern)
	}

	return real, nil
}

// ValidateParent validates a path that is about to be created or replaced:
// both the final target and its parent directory must pass. Returns the
// canonical form of the target.
func (p *Path) ValidateParent(path string) (string, error) {
	real, err := p.Validate(path)
	if err != nil {
		return "", err
	}
	if _, err := p.Validate(filepath.Dir(real)); err != nil {
		return "", err
	}
	return real, nil
}

// resolveExisting follows symlinks for as much of the path as exists.
// For a missing tail, the deepest existing ancestor is canonicalized and
// the remaining components are appended lexically.
func (p *Path) resolveExisting(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return normalizeCase(real), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolving %s: %w", abs, err)
	}

	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs {
		// Hit the filesystem root without finding an existing ancestor.
		return normalizeCase(abs), nil
	}
	parent, err := p.resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// underRoot reports whether the path has one of the allowed roots as a
// prefix at a path-component boundary.
func (p *Path) underRoot(path string) bool {
	path = normalizeCase(filepath.Clean(path))
	for _, root := range p.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// matchDeny returns the first deny pattern the path matches, or "".
// Patterns are tried against the basename and against the path relative
// to its allowed root, so "*.pem" and ".ssh/**" both behave as expected.
func (p *Path) matchDeny(path string) string {
	base := filepath.Base(path)
	rel := p.relToRoot(path)

	for _, pattern := range p.denyPatterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return pattern
		}
		if rel != "" {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
				return pattern
			}
		}
		// Absolute patterns (the server config dir) match the whole path.
		if strings.HasPrefix(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(path)); ok {
				return pattern
			}
		}
	}
	return ""
}

// relToRoot returns the path relative to its containing root, or "".
func (p *Path) relToRoot(path string) string {
	norm := normalizeCase(filepath.Clean(path))
	for _, root := range p.roots {
		if norm == root {
			return "."
		}
		if strings.HasPrefix(norm, root+string(filepath.Separator)) {
			return norm[len(root)+1:]
		}
	}
	return ""
}

// normalizeCase lower-cases paths on case-insensitive filesystems so that
// prefix checks cannot be defeated by case games.
func normalizeCase(path string) string {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(path)
	}
	return path
}

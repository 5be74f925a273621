package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
)

// Backend identifies the external content-search program in use.
type Backend string

const (
	BackendRipgrep  Backend = "rg"
	BackendAg       Backend = "ag"
	BackendAck      Backend = "ack"
	BackendBuiltin  Backend = "builtin"
	defaultGrepMax          = 100
	defaultFindMax          = 200
	maxScanFileSize         = 4 * 1024 * 1024
)

// SearchTools provides content and filename search. The external backend
// is probed once per process (rg, then ag, then ack) and cached; when none
// is installed a built-in engine walks the allowed roots with Go's regexp
// package.
type SearchTools struct {
	pathVal *security.Path
	logger  log.Logger

	detectOnce sync.Once
	backend    Backend

	lookPath func(string) (string, error) // stubbed in tests
}

// NewSearchTools creates the search toolset.
func NewSearchTools(pathVal *security.Path, logger log.Logger) (*SearchTools, error) {
	if pathVal == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &SearchTools{
		pathVal:  pathVal,
		logger:   logger,
		lookPath: exec.LookPath,
	}, nil
}

// Descriptors returns the search tool descriptors.
func (s *SearchTools) Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name: "grep",
			Description: "Search file contents for a pattern using the fastest available " +
				"backend (ripgrep, ag, ack, or a built-in engine).",
			Category: CategorySearch,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"pattern":      {Type: "string", Description: "Regular expression to search for"},
					"path":         {Type: "string", Description: "Directory or file to search (default: every allowed root)"},
					"include":      {Type: "string", Description: "Only search files matching this glob, e.g. *.go (not applied by the ack backend)"},
					"ignore_case":  {Type: "boolean", Description: "Case-insensitive matching"},
					"line_numbers": {Type: "boolean", Description: "Prefix matches with line numbers (default true)"},
					"context":      {Type: "integer", Description: "Lines of context around each match (external backends only; the built-in engine prints matching lines only)"},
					"max_results":  {Type: "integer", Description: "Cap on matching lines (default 100)"},
				},
				Required: []string{"pattern"},
			},
			Handler: s.Grep,
		},
		{
			Name: "search",
			Description: "Unified search: matches file names, file contents and git history " +
				"for a query, returning one section per strategy.",
			Category: CategorySearch,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"pattern":     {Type: "string", Description: "Query text"},
					"path":        {Type: "string", Description: "Directory to search (default: every allowed root)"},
					"include":     {Type: "string", Description: "Only search files matching this glob"},
					"max_results": {Type: "integer", Description: "Cap per strategy (default 100)"},
				},
				Required: []string{"pattern"},
			},
			Handler: s.Search,
		},
	}
}

// DetectBackend probes for external search programs, best first. The
// result is computed once and cached for the process lifetime.
func (s *SearchTools) DetectBackend() Backend {
	s.detectOnce.Do(func() {
		s.backend = BackendBuiltin
		for _, candidate := range []Backend{BackendRipgrep, BackendAg, BackendAck} {
			if _, err := s.lookPath(string(candidate)); err == nil {
				s.backend = candidate
				break
			}
		}
		s.logger.Info("search backend detected", "backend", s.backend)
	})
	return s.backend
}

// grepQuery carries the normalized grep parameters.
type grepQuery struct {
	pattern     string
	include     string
	ignoreCase  bool
	lineNumbers bool
	context     int
	maxResults  int
}

// Grep searches file contents under a root.
func (s *SearchTools) Grep(ctx context.Context, args map[string]any) Result {
	q := grepQuery{
		pattern:     argString(args, "pattern"),
		include:     argString(args, "include"),
		ignoreCase:  argBool(args, "ignore_case", false),
		lineNumbers: argBool(args, "line_numbers", true),
		context:     argInt(args, "context", 0),
		maxResults:  argInt(args, "max_results", defaultGrepMax),
	}
	if strings.TrimSpace(q.pattern) == "" {
		return Errorf(ErrCodeValidation, "pattern cannot be empty")
	}

	roots := s.pathVal.Roots()
	if root := argString(args, "path"); root != "" {
		safeRoot, err := s.pathVal.Validate(root)
		if err != nil {
			return Errorf(ErrCodeSecurity, "%v", err)
		}
		roots = []string{safeRoot}
	}

	var sections []string
	total := 0
	for _, root := range roots {
		lines, err := s.grepRoot(ctx, q, root)
		if err != nil {
			return Errorf(ErrCodeExternal, "search failed under %s: %v", root, err)
		}
		total += len(lines)
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}

	if total == 0 {
		return Success(fmt.Sprintf("no matches for %q", q.pattern), "")
	}
	return Success(
		fmt.Sprintf("%d matching lines for %q (backend: %s)", total, q.pattern, s.DetectBackend()),
		strings.Join(sections, "\n")+"\n",
	)
}

// grepRoot runs one content search under a single root.
func (s *SearchTools) grepRoot(ctx context.Context, q grepQuery, root string) ([]string, error) {
	switch s.DetectBackend() {
	case BackendRipgrep:
		return s.runBackend(ctx, q, root, s.ripgrepArgs(q, root))
	case BackendAg:
		return s.runBackend(ctx, q, root, s.agArgs(q, root))
	case BackendAck:
		return s.runBackend(ctx, q, root, s.ackArgs(q, root))
	default:
		return s.builtinGrep(ctx, q, root)
	}
}

func (s *SearchTools) ripgrepArgs(q grepQuery, root string) []string {
	args := []string{"rg", "--no-heading", "--color", "never"}
	if q.lineNumbers {
		args = append(args, "-n")
	}
	if q.ignoreCase {
		args = append(args, "-i")
	}
	if q.context > 0 {
		args = append(args, "-C", strconv.Itoa(q.context))
	}
	if q.include != "" {
		args = append(args, "--glob", q.include)
	}
	return append(args, "--", q.pattern, root)
}

func (s *SearchTools) agArgs(q grepQuery, root string) []string {
	args := []string{"ag", "--nogroup", "--nocolor"}
	if q.lineNumbers {
		args = append(args, "--numbers")
	}
	if q.ignoreCase {
		args = append(args, "-i")
	}
	if q.context > 0 {
		args = append(args, "-C", strconv.Itoa(q.context))
	}
	if q.include != "" {
		args = append(args, "-G", globToRegex(q.include))
	}
	return append(args, "--", q.pattern, root)
}

func (s *SearchTools) ackArgs(q grepQuery, root string) []string {
	args := []string{"ack", "--nogroup", "--nocolor", "-H"}
	if q.ignoreCase {
		args = append(args, "-i")
	}
	if q.context > 0 {
		args = append(args, "-C", strconv.Itoa(q.context))
	}
	return append(args, "--", q.pattern, root)
}

// runBackend executes an external search command. Exit code 1 means "no
// matches" for every supported backend and is treated as success.
func (s *SearchTools) runBackend(ctx context.Context, q grepQuery, root string, argv []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- fixed argv built above
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %v: %s", argv[0], err, firstLine(stderr.String()))
	}

	return capLines(stdout.String(), q.maxResults), nil
}

// builtinGrep is the fallback engine: it walks the root through the
// permission policy and scans files with Go's regexp package.
func (s *SearchTools) builtinGrep(ctx context.Context, q grepQuery, root string) ([]string, error) {
	expr := q.pattern
	if q.ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var lines []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if filteredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(lines) >= q.maxResults {
			return filepath.SkipAll
		}
		if q.include != "" {
			if ok, _ := doublestar.Match(q.include, d.Name()); !ok {
				return nil
			}
		}
		// The allowlist walk still honors deny patterns (.env, keys, ...).
		safePath, err := s.pathVal.Validate(path)
		if err != nil {
			return nil
		}
		matches, err := scanFile(safePath, re, q)
		if err != nil {
			return nil
		}
		lines = append(lines, matches...)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipAll) && !errors.Is(walkErr, context.Canceled) {
		return nil, walkErr
	}
	return capLines(strings.Join(lines, "\n"), q.maxResults), nil
}

// scanFile scans one file for pattern matches.
func scanFile(path string, re *regexp.Regexp, q grepQuery) ([]string, error) {
	data, err := readFileCapped(path, maxScanFileSize)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, nil
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if q.lineNumbers {
			out = append(out, fmt.Sprintf("%s:%d:%s", path, lineNo, line))
		} else {
			out = append(out, fmt.Sprintf("%s:%s", path, line))
		}
		if len(out) >= q.maxResults {
			break
		}
	}
	return out, scanner.Err()
}

// Search runs the unified multi-strategy search: filename matches, content
// matches and git history, each as its own section. Strategies that do
// not apply (no git repository) are omitted silently.
func (s *SearchTools) Search(ctx context.Context, args map[string]any) Result {
	pattern := argString(args, "pattern")
	include := argString(args, "include")
	maxResults := argInt(args, "max_results", defaultGrepMax)
	if strings.TrimSpace(pattern) == "" {
		return Errorf(ErrCodeValidation, "pattern cannot be empty")
	}

	roots := s.pathVal.Roots()
	if root := argString(args, "path"); root != "" {
		safeRoot, err := s.pathVal.Validate(root)
		if err != nil {
			return Errorf(ErrCodeSecurity, "%v", err)
		}
		roots = []string{safeRoot}
	}

	var (
		wg                             sync.WaitGroup
		nameHits, contentHits, gitHits []string
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		hits, err := s.findNames(ctx, "*"+pattern+"*", roots, "", maxResults)
		if err == nil {
			nameHits = hits
		}
	}()
	go func() {
		defer wg.Done()
		q := grepQuery{pattern: pattern, include: include, lineNumbers: true, maxResults: maxResults}
		for _, root := range roots {
			lines, err := s.grepRoot(ctx, q, root)
			if err != nil {
				continue
			}
			contentHits = append(contentHits, lines...)
			if len(contentHits) >= maxResults {
				contentHits = contentHits[:maxResults]
				break
			}
		}
	}()
	go func() {
		defer wg.Done()
		for _, root := range roots {
			hits := s.gitHistory(ctx, pattern, root, maxResults)
			gitHits = append(gitHits, hits...)
			if len(gitHits) >= maxResults {
				gitHits = gitHits[:maxResults]
				break
			}
		}
	}()
	wg.Wait()

	var b strings.Builder
	writeSection := func(title string, hits []string) {
		if len(hits) == 0 {
			return
		}
		fmt.Fprintf(&b, "=== %s (%d) ===\n", title, len(hits))
		b.WriteString(strings.Join(hits, "\n"))
		b.WriteString("\n\n")
	}
	writeSection("filename matches", nameHits)
	writeSection("content matches", contentHits)
	writeSection("git history matches", gitHits)

	total := len(nameHits) + len(contentHits) + len(gitHits)
	if total == 0 {
		return Success(fmt.Sprintf("no matches for %q", pattern), "")
	}
	return Success(fmt.Sprintf("%d matches for %q", total, pattern), b.String())
}

// findNames lists files whose names match a glob or substring pattern.
// With ripgrep available the file listing is delegated to `rg --files`;
// otherwise the roots are walked directly.
func (s *SearchTools) findNames(ctx context.Context, pattern string, roots []string, kind string, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = defaultFindMax
	}
	isGlob := strings.ContainsAny(pattern, "*?[")

	match := func(name string) bool {
		if isGlob {
			ok, _ := doublestar.Match(pattern, name)
			return ok
		}
		return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
	}

	var out []string
	if s.DetectBackend() == BackendRipgrep && kind != "dir" {
		for _, root := range roots {
			cmd := exec.CommandContext(ctx, "rg", "--files", root)
			var stdout bytes.Buffer
			cmd.Stdout = &stdout
			if err := cmd.Run(); err != nil {
				var exitErr *exec.ExitError
				if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
					// Fall back to walking rather than failing the call.
					return s.walkNames(ctx, match, roots, kind, maxResults)
				}
			}
			scanner := bufio.NewScanner(&stdout)
			for scanner.Scan() {
				path := scanner.Text()
				if match(filepath.Base(path)) {
					out = append(out, path)
					if len(out) >= maxResults {
						return out, nil
					}
				}
			}
		}
		return out, nil
	}

	return s.walkNames(ctx, match, roots, kind, maxResults)
}

// walkNames is the backend-free filename matcher.
func (s *SearchTools) walkNames(ctx context.Context, match func(string) bool, roots []string, kind string, maxResults int) ([]string, error) {
	var out []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() && filteredDirs[d.Name()] {
				return filepath.SkipDir
			}
			if kind == "dir" && !d.IsDir() {
				return nil
			}
			if kind == "file" && d.IsDir() {
				return nil
			}
			if path != root && match(d.Name()) {
				out = append(out, path)
				if len(out) >= maxResults {
					return filepath.SkipAll
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, filepath.SkipAll) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// gitHistory searches commit history with `git log --all -S`. A root that
// is not a git repository yields no section.
func (s *SearchTools) gitHistory(ctx context.Context, pattern, root string, maxResults int) []string {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "log", "--all",
		"-S", pattern, "--oneline", "-n", strconv.Itoa(maxResults))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil
	}
	return capLines(stdout.String(), maxResults)
}

// capLines splits output into lines and truncates to max.
func capLines(out string, max int) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	if len(lines) > max {
		lines = lines[:max]
	}
	return lines
}

// firstLine returns the first line of a string, for stderr excerpts.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// globToRegex converts a simple glob to the regex dialect ag expects for
// its -G file filter.
func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String() + "$"
}

// readFileCapped reads a file, refusing anything over the size limit.
func readFileCapped(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("file too large to scan: %d bytes", info.Size())
	}
	return os.ReadFile(path) // #nosec G304 -- callers validate the path
}

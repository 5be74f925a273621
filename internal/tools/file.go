package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
)

// MaxReadFileSize caps how much of a file read loads into memory (10 MiB).
const MaxReadFileSize = 10 * 1024 * 1024

// binarySniffLen is how many leading bytes are examined for binary content.
const binarySniffLen = 8 * 1024

// defaultReadLimit is the number of lines returned when no limit is given.
const defaultReadLimit = 2000

// filteredDirs are well-known noise directories skipped by tree unless
// include_filtered is set.
var filteredDirs = map[string]bool{
	"node_modules":  true,
	".git":          true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".idea":         true,
	".vscode":       true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".next":         true,
	".cache":        true,
	".pytest_cache": true,
	".mypy_cache":   true,
}

// FileTools provides the filesystem tool handlers: read, write, list,
// tree, find and info. Every operation validates its path arguments
// against the permission policy before touching the OS.
type FileTools struct {
	pathVal *security.Path
	search  *SearchTools
	logger  log.Logger
}

// NewFileTools creates the filesystem toolset. The search dependency is
// used by find for backend-accelerated filename listing.
func NewFileTools(pathVal *security.Path, search *SearchTools, logger log.Logger) (*FileTools, error) {
	if pathVal == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if search == nil {
		return nil, fmt.Errorf("search tools are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &FileTools{pathVal: pathVal, search: search, logger: logger}, nil
}

// Descriptors returns the tool descriptors for this toolset.
// writeEnabled controls whether the mutating write tool is included.
func (f *FileTools) Descriptors(writeEnabled bool) []Descriptor {
	ds := []Descriptor{
		{
			Name: "read",
			Description: "Read a text file with automatic encoding detection. " +
				"Supports line-based pagination via offset and limit; binary files " +
				"are reported, not dumped.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path":   {Type: "string", Description: "Absolute path of the file to read"},
					"offset": {Type: "integer", Description: "First line to return, 0-based (default 0)"},
					"limit":  {Type: "integer", Description: "Maximum number of lines to return (default 2000)"},
				},
				Required: []string{"path"},
			},
			Handler: f.Read,
		},
		{
			Name: "list",
			Description: "List the entries of a directory with file/directory markers. " +
				"An optional glob pattern filters entry names.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path":    {Type: "string", Description: "Absolute path of the directory"},
					"pattern": {Type: "string", Description: "Optional glob filter, e.g. *.go"},
				},
				Required: []string{"path"},
			},
			Handler: f.List,
		},
		{
			Name: "tree",
			Description: "Render a directory tree. Noise directories (node_modules, " +
				".git, __pycache__, ...) are filtered unless include_filtered is set.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path":             {Type: "string", Description: "Absolute path of the root directory"},
					"depth":            {Type: "integer", Description: "Maximum depth to descend (default 3)"},
					"show_hidden":      {Type: "boolean", Description: "Include dot entries"},
					"pattern":          {Type: "string", Description: "Only show files matching this glob"},
					"show_size":        {Type: "boolean", Description: "Append file sizes"},
					"dirs_only":        {Type: "boolean", Description: "Show directories only"},
					"include_filtered": {Type: "boolean", Description: "Include the filtered noise directories"},
				},
				Required: []string{"path"},
			},
			Handler: f.Tree,
		},
		{
			Name: "find",
			Description: "Find files by name pattern (glob or substring) under an " +
				"allowed root, using the fastest available search backend.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"pattern":     {Type: "string", Description: "Glob or substring to match against file names"},
					"path":        {Type: "string", Description: "Directory to search (default: every allowed root)"},
					"type":        {Type: "string", Enum: []any{"file", "dir"}, Description: "Restrict matches to files or directories"},
					"max_results": {Type: "integer", Description: "Cap on returned paths (default 200)"},
				},
				Required: []string{"pattern"},
			},
			Handler: f.Find,
		},
		{
			Name:        "info",
			Description: "Return metadata for a path: size, kind, permissions, modification time and symlink target.",
			Category:    CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path": {Type: "string", Description: "Absolute path to inspect"},
				},
				Required: []string{"path"},
			},
			Handler: f.Info,
		},
	}

	if writeEnabled {
		ds = append(ds, Descriptor{
			Name: "write",
			Description: "Write a file atomically, creating missing parent directories " +
				"inside the allowed roots. Overwrites existing content.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path":    {Type: "string", Description: "Absolute path of the file to write"},
					"content": {Type: "string", Description: "Full new content of the file"},
				},
				Required: []string{"path", "content"},
			},
			Handler: f.Write,
		})
	}
	return ds
}

// Read returns a decoded, line-paginated view of a text file.
func (f *FileTools) Read(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	offset := argInt(args, "offset", 0)
	limit := argInt(args, "limit", defaultReadLimit)
	f.logger.Debug("read", "path", path, "offset", offset, "limit", limit)

	safePath, err := f.pathVal.Validate(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}
	if offset < 0 || limit <= 0 {
		return Errorf(ErrCodeValidation, "offset must be >= 0 and limit > 0")
	}

	info, err := os.Stat(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrCodeNotFound, "file not found: %s", path)
		}
		return Errorf(ErrCodeIO, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return Errorf(ErrCodeValidation, "%s is a directory; use list or tree", path)
	}
	if info.Size() > MaxReadFileSize {
		return Errorf(ErrCodeValidation, "file too large: %d bytes (max %d)", info.Size(), MaxReadFileSize)
	}

	data, err := os.ReadFile(safePath) // #nosec G304 -- validated above
	if err != nil {
		return Errorf(ErrCodeIO, "read %s: %v", path, err)
	}

	if isBinary(data) {
		return Success(
			fmt.Sprintf("binary file: %s", path),
			fmt.Sprintf("<binary file %s, %d bytes; content not shown>", path, info.Size()),
		)
	}

	text, encName := decodeText(data)
	lines := strings.Split(text, "\n")
	// A trailing newline produces one empty phantom line; drop it.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	total := len(lines)
	if offset >= total && total > 0 {
		return Errorf(ErrCodeValidation, "offset %d is past the end of the file (%d lines)", offset, total)
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := strings.Join(lines[offset:end], "\n")

	summary := fmt.Sprintf("%s: lines %d-%d of %d (%s)", path, offset, end, total, encName)
	if end < total {
		summary += fmt.Sprintf("; %d more lines, continue with offset=%d", total-end, end)
	}
	return Result{
		Status:  StatusSuccess,
		Message: summary,
		Data:    page,
	}
}

// Write replaces a file's content atomically: the new bytes go to a
// temporary file in the same directory which is then renamed over the
// target, so concurrent readers see either the old or the new content.
func (f *FileTools) Write(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	content := argString(args, "content")
	f.logger.Debug("write", "path", path, "bytes", len(content))

	safePath, err := f.pathVal.ValidateParent(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0o750); err != nil {
		return Errorf(ErrCodeIO, "creating parent directories for %s: %v", path, err)
	}
	if err := atomicWrite(safePath, []byte(content)); err != nil {
		return Errorf(ErrCodeIO, "writing %s: %v", path, err)
	}

	return Success(fmt.Sprintf("wrote %d bytes to %s", len(content), safePath), nil)
}

// List returns the entries of a directory.
func (f *FileTools) List(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	pattern := argString(args, "pattern")
	f.logger.Debug("list", "path", path, "pattern", pattern)

	safePath, err := f.pathVal.Validate(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}

	entries, err := os.ReadDir(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrCodeNotFound, "directory not found: %s", path)
		}
		return Errorf(ErrCodeIO, "reading directory %s: %v", path, err)
	}

	var b strings.Builder
	count := 0
	for _, entry := range entries {
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, entry.Name()); !ok {
				continue
			}
		}
		kind := "file"
		if entry.IsDir() {
			kind = "dir "
		}
		fmt.Fprintf(&b, "[%s] %s\n", kind, entry.Name())
		count++
	}

	return Success(fmt.Sprintf("%d entries in %s", count, safePath), b.String())
}

// Tree renders a textual directory tree with box-drawing glyphs.
func (f *FileTools) Tree(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	depth := argInt(args, "depth", 3)
	showHidden := argBool(args, "show_hidden", false)
	pattern := argString(args, "pattern")
	showSize := argBool(args, "show_size", false)
	dirsOnly := argBool(args, "dirs_only", false)
	includeFiltered := argBool(args, "include_filtered", false)
	f.logger.Debug("tree", "path", path, "depth", depth)

	safePath, err := f.pathVal.Validate(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}
	info, err := os.Stat(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrCodeNotFound, "directory not found: %s", path)
		}
		return Errorf(ErrCodeIO, "stat %s: %v", path, err)
	}
	if !info.IsDir() {
		return Errorf(ErrCodeValidation, "%s is not a directory", path)
	}

	opts := treeOptions{
		maxDepth:        depth,
		showHidden:      showHidden,
		pattern:         pattern,
		showSize:        showSize,
		dirsOnly:        dirsOnly,
		includeFiltered: includeFiltered,
	}
	var b strings.Builder
	b.WriteString(safePath + "\n")
	files, dirs := f.renderTree(&b, safePath, "", 0, opts)

	summary := fmt.Sprintf("%d directories, %d files", dirs, files)
	b.WriteString("\n" + summary + "\n")
	return Success(summary, b.String())
}

type treeOptions struct {
	maxDepth        int
	showHidden      bool
	pattern         string
	showSize        bool
	dirsOnly        bool
	includeFiltered bool
}

// renderTree walks one directory level and returns file/dir counts.
func (f *FileTools) renderTree(b *strings.Builder, dir, prefix string, depth int, opts treeOptions) (files, dirs int) {
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		return 0, 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(b, "%s└── <unreadable: %v>\n", prefix, err)
		return 0, 0
	}

	kept := entries[:0:0]
	for _, entry := range entries {
		name := entry.Name()
		if !opts.showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() && !opts.includeFiltered && filteredDirs[name] {
			continue
		}
		if !entry.IsDir() {
			if opts.dirsOnly {
				continue
			}
			if opts.pattern != "" {
				if ok, _ := doublestar.Match(opts.pattern, name); !ok {
					continue
				}
			}
		}
		kept = append(kept, entry)
	}

	for i, entry := range kept {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(kept)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}

		label := entry.Name()
		if entry.IsDir() {
			label += "/"
		} else if opts.showSize {
			if info, err := entry.Info(); err == nil {
				label += fmt.Sprintf(" (%s)", humanSize(info.Size()))
			}
		}
		b.WriteString(prefix + connector + label + "\n")

		if entry.IsDir() {
			dirs++
			cf, cd := f.renderTree(b, filepath.Join(dir, entry.Name()), childPrefix, depth+1, opts)
			files += cf
			dirs += cd
		} else {
			files++
		}
	}
	return files, dirs
}

// Find locates files by name under the allowed roots.
func (f *FileTools) Find(ctx context.Context, args map[string]any) Result {
	pattern := argString(args, "pattern")
	root := argString(args, "path")
	kindFilter := argString(args, "type")
	maxResults := argInt(args, "max_results", 200)
	f.logger.Debug("find", "pattern", pattern, "root", root)

	if strings.TrimSpace(pattern) == "" {
		return Errorf(ErrCodeValidation, "pattern cannot be empty")
	}

	roots := f.pathVal.Roots()
	if root != "" {
		safeRoot, err := f.pathVal.Validate(root)
		if err != nil {
			return Errorf(ErrCodeSecurity, "%v", err)
		}
		roots = []string{safeRoot}
	}

	matches, err := f.search.findNames(ctx, pattern, roots, kindFilter, maxResults)
	if err != nil {
		return Errorf(ErrCodeExternal, "find failed: %v", err)
	}

	if len(matches) == 0 {
		return Success(fmt.Sprintf("no matches for %q", pattern), "")
	}
	return Success(
		fmt.Sprintf("%d matches for %q", len(matches), pattern),
		strings.Join(matches, "\n")+"\n",
	)
}

// Info returns metadata for a file or directory.
func (f *FileTools) Info(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	f.logger.Debug("info", "path", path)

	// Lstat semantics: report the link itself, but only for paths that
	// pass validation (which follows the link for the containment check).
	safePath, err := f.pathVal.Validate(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}
	// safePath is the resolved target; the link itself is inspected
	// through the absolute form of the path that was validated.
	linkPath, err := filepath.Abs(path)
	if err != nil {
		linkPath = safePath
	}

	info, err := os.Lstat(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrCodeNotFound, "path not found: %s", path)
		}
		return Errorf(ErrCodeIO, "stat %s: %v", path, err)
	}

	kind := "file"
	switch {
	case info.IsDir():
		kind = "directory"
	case info.Mode()&os.ModeSymlink != 0:
		kind = "symlink"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "path:     %s\n", safePath)
	fmt.Fprintf(&b, "kind:     %s\n", kind)
	fmt.Fprintf(&b, "size:     %d\n", info.Size())
	fmt.Fprintf(&b, "mode:     %s\n", info.Mode().String())
	fmt.Fprintf(&b, "modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
	if kind == "symlink" {
		if target, err := os.Readlink(linkPath); err == nil {
			fmt.Fprintf(&b, "target:   %s\n", target)
		}
	}

	return Success(fmt.Sprintf("%s: %s, %d bytes", safePath, kind, info.Size()), b.String())
}

// atomicWrite writes data to a temporary file in the target's directory
// and renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// isBinary sniffs the leading bytes for NUL or a non-text distribution.
func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if len(sniff) == 0 {
		return false
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		// UTF-16 text legitimately contains NUL bytes; check for a BOM
		// before declaring the file binary.
		if hasUTF16BOM(data) {
			return false
		}
		return true
	}
	// Count control characters other than whitespace.
	control := 0
	for _, c := range sniff {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' && c != '\f' {
			control++
		}
	}
	return control*10 > len(sniff)
}

func hasUTF16BOM(data []byte) bool {
	return len(data) >= 2 &&
		((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF))
}

// decodeText converts raw file bytes to a UTF-8 string, detecting UTF-16
// via BOM and falling back to Latin-1 for non-UTF-8 byte streams.
func decodeText(data []byte) (string, string) {
	if hasUTF16BOM(data) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, err := dec.Bytes(data); err == nil {
			return string(decoded), "utf-16"
		}
	}
	// Strip a UTF-8 BOM if present.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(decoded), "latin-1"
	}
	return string(data), "utf-8"
}

// humanSize renders a byte count in a compact human-readable form.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// sortedKeys is a small helper used by callers that render maps stably.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

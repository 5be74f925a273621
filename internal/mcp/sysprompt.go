package mcp

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/hanzoai/hanzo-mcp/internal/tools"
)

// projectMarkers map marker files to a human-readable project type.
var projectMarkers = []struct {
	file string
	kind string
}{
	{"go.mod", "Go"},
	{"package.json", "Node.js"},
	{"pyproject.toml", "Python"},
	{"requirements.txt", "Python"},
	{"Cargo.toml", "Rust"},
	{"pom.xml", "Java (Maven)"},
	{"build.gradle", "Java (Gradle)"},
	{"Gemfile", "Ruby"},
	{"composer.json", "PHP"},
	{"CMakeLists.txt", "C/C++ (CMake)"},
	{"Makefile", "Make"},
}

// usageGuidance is the fixed closing block of the system prompt.
const usageGuidance = `Usage guidance:
- Prefer read/grep/find over run_command for inspecting files; they are
  faster and respect the permission policy with clearer errors.
- Edits require a unique old_text match; include enough surrounding
  context to disambiguate, or use multi_edit for ordered batches.
- Long-running commands belong in run_background; poll them with
  get_process_output and stop them with kill_process.
- A non-zero exit status from run_command is data, not an error.`

// assembleSystemPrompt builds the environment description exposed at
// hanzo://system-prompt. It is a pure function over the current
// filesystem state and registry contents, re-evaluated on every read.
func assembleSystemPrompt(name, version string, roots []string, registry *tools.Registry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s\n\n", name, version)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintf(&b, "Working directory: %s\n", wd)
	}
	fmt.Fprintf(&b, "Allowed roots: %s\n", strings.Join(roots, ", "))

	for _, root := range roots {
		if git := describeGit(root); git != "" {
			fmt.Fprintf(&b, "Git (%s): %s\n", root, git)
		}
		if kinds := detectProjectTypes(root); len(kinds) > 0 {
			fmt.Fprintf(&b, "Project (%s): %s\n", root, strings.Join(kinds, ", "))
		}
	}

	b.WriteString("\n## Enabled tools\n")
	byCategory := map[string][]string{}
	for _, d := range registry.Enabled() {
		byCategory[d.Category] = append(byCategory[d.Category], d.Name)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		names := byCategory[c]
		sort.Strings(names)
		fmt.Fprintf(&b, "- %s: %s\n", c, strings.Join(names, ", "))
	}

	b.WriteString("\n" + usageGuidance + "\n")
	return b.String()
}

// describeGit summarizes branch, dirtiness and remote for a repository
// root. Returns "" when the root is not inside a git work tree.
func describeGit(root string) string {
	branch := gitOutput(root, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "" {
		return ""
	}

	state := "clean"
	if gitOutput(root, "status", "--porcelain") != "" {
		state = "dirty"
	}

	desc := fmt.Sprintf("branch %s, %s", branch, state)
	if remote := gitOutput(root, "remote", "get-url", "origin"); remote != "" {
		desc += fmt.Sprintf(", origin %s", remote)
	}
	return desc
}

// gitOutput runs one git query and returns its trimmed stdout, or "".
func gitOutput(root string, args ...string) string {
	cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(stdout.String())
}

// detectProjectTypes reports which project marker files exist in a root.
func detectProjectTypes(root string) []string {
	var kinds []string
	seen := map[string]bool{}
	for _, marker := range projectMarkers {
		if seen[marker.kind] {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, marker.file)); err == nil {
			kinds = append(kinds, marker.kind)
			seen[marker.kind] = true
		}
	}
	return kinds
}

package security

import (
	"fmt"
	"regexp"
	"strings"
)

// deniedForms enumerates destructive command shapes that are rejected
// regardless of where they would run. The list is matched against the
// lower-cased, whitespace-collapsed command line.
var deniedForms = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -fr /",
	"mkfs",
	"dd if=/dev/zero",
	"dd if=/dev/urandom",
	"dd of=/dev/",
	"shutdown",
	"reboot",
	"halt -f",
	"sudo su",
	":(){ :|:& };:",
	"chmod -r 777 /",
	"chown -r",
	"> /etc/",
	">/etc/",
}

// pathTokenRe finds absolute-path-looking tokens in a command line.
// It deliberately over-matches; found tokens are then checked against the
// allowed roots and a small set of always-tolerated prefixes.
var pathTokenRe = regexp.MustCompile(`(?:^|[\s=><|;&])(/[A-Za-z0-9._/-]+)`)

// redirectRe finds shell output redirections and captures their target.
var redirectRe = regexp.MustCompile(`>>?\s*(/[A-Za-z0-9._/-]+)`)

// toleratedPrefixes are absolute locations a command may reference even
// though they are outside the allowed roots: interpreters, system
// binaries, devices used read-only, and temp scratch space.
var toleratedPrefixes = []string{
	"/bin/", "/sbin/",
	"/usr/",
	"/opt/",
	"/lib/", "/lib64/",
	"/dev/null", "/dev/stdin", "/dev/stdout", "/dev/stderr", "/dev/tty",
	"/proc/self",
	"/tmp/",
	"/var/tmp/",
	"/var/folders/",
}

// writeSensitivePrefixes are locations no redirection may ever target.
var writeSensitivePrefixes = []string{
	"/etc/", "/boot/", "/sys/", "/dev/sd", "/dev/disk", "/dev/nvme",
}

// Command validates command lines before shell execution.
// Commands run through a shell (`sh -c`), so the validator works on the
// raw command string: it cannot fully parse shell syntax and does not try
// to; it rejects what is statically detectable and relies on the cwd
// constraint and the Path validator for everything else.
type Command struct {
	paths *Path
}

// NewCommand creates a command validator that checks path tokens against
// the given path policy.
func NewCommand(paths *Path) (*Command, error) {
	if paths == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	return &Command{paths: paths}, nil
}

// Validate checks whether a command line may be executed. The working
// directory is not an argument here; callers check it separately with
// Path.Validate.
func (v *Command) Validate(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if strings.Contains(trimmed, "\x00") {
		return fmt.Errorf("command contains a null byte")
	}

	collapsed := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	for _, form := range deniedForms {
		if strings.Contains(collapsed, form) {
			return fmt.Errorf("command rejected: contains destructive form %q", form)
		}
	}

	// Redirection targets are writes; they must be inside the allowed
	// roots or scratch space, and never in write-sensitive locations.
	for _, m := range redirectRe.FindAllStringSubmatch(trimmed, -1) {
		target := m[1]
		if err := v.checkWriteTarget(target); err != nil {
			return err
		}
	}

	// Absolute path tokens in read position: tolerate system locations,
	// require everything else to be under an allowed root.
	for _, m := range pathTokenRe.FindAllStringSubmatch(trimmed, -1) {
		token := m[1]
		if v.tolerated(token) || v.paths.underRoot(token) {
			continue
		}
		return fmt.Errorf("command rejected: references %s, which is not within the allowed roots", token)
	}

	return nil
}

// checkWriteTarget validates a redirection target.
func (v *Command) checkWriteTarget(target string) error {
	lower := strings.ToLower(target)
	for _, prefix := range writeSensitivePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return fmt.Errorf("command rejected: redirection into protected location %s", target)
		}
	}
	if v.tolerated(target) || v.paths.underRoot(target) {
		return nil
	}
	return fmt.Errorf("command rejected: redirection target %s is not within the allowed roots", target)
}

// tolerated reports whether an absolute token may be referenced even
// outside the allowed roots.
func (v *Command) tolerated(token string) bool {
	for _, prefix := range toleratedPrefixes {
		if strings.HasPrefix(token, prefix) || token == strings.TrimSuffix(prefix, "/") {
			return true
		}
	}
	return false
}

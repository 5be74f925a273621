package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
)

// maxCaptureBytes caps stdout and stderr capture for synchronous commands
// (10 MiB each). Past the cap, bytes are discarded and the result carries
// a truncation note.
const maxCaptureBytes = 10 * 1024 * 1024

// ShellTools provides synchronous command execution.
type ShellTools struct {
	pathVal *security.Path
	cmdVal  *security.Command
	logger  log.Logger

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// NewShellTools creates the shell toolset. Timeouts come from the server
// configuration; the per-call timeout argument is clamped to maxTimeout.
func NewShellTools(pathVal *security.Path, cmdVal *security.Command, defaultTimeout, maxTimeout time.Duration, logger log.Logger) (*ShellTools, error) {
	if pathVal == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if cmdVal == nil {
		return nil, fmt.Errorf("command validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if defaultTimeout <= 0 || maxTimeout < defaultTimeout {
		return nil, fmt.Errorf("invalid timeouts: default %v, max %v", defaultTimeout, maxTimeout)
	}
	return &ShellTools{
		pathVal:        pathVal,
		cmdVal:         cmdVal,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}, nil
}

// Descriptors returns the shell tool descriptors.
func (sh *ShellTools) Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name: "run_command",
			Description: "Run a shell command synchronously and return its output and exit " +
				"status. A non-zero exit status is reported as data, not as an error.",
			Category: CategoryShell,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"command":         {Type: "string", Description: "Command line to execute through the shell"},
					"cwd":             {Type: "string", Description: "Working directory (must be inside an allowed root; defaults to the first root)"},
					"env":             {Type: "object", Description: "Extra environment variables overlaid on the server's environment"},
					"timeout_ms":      {Type: "integer", Description: "Timeout in milliseconds (default 30000)"},
					"use_login_shell": {Type: "boolean", Description: "Run through the user's login shell so profile files set up PATH"},
				},
				Required: []string{"command"},
			},
			Handler: sh.RunCommand,
		},
	}
}

// RunCommand executes a command with a timeout, captured output and an
// allowed-root working directory.
func (sh *ShellTools) RunCommand(ctx context.Context, args map[string]any) Result {
	command := argString(args, "command")
	cwd := argString(args, "cwd")
	envOverlay := argStringMap(args, "env")
	timeoutMS := argInt(args, "timeout_ms", int(sh.defaultTimeout/time.Millisecond))
	useLoginShell := argBool(args, "use_login_shell", false)

	if err := sh.cmdVal.Validate(command); err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}

	if timeoutMS <= 0 {
		return Errorf(ErrCodeValidation, "timeout_ms must be positive")
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout > sh.maxTimeout {
		timeout = sh.maxTimeout
		timeoutMS = int(sh.maxTimeout / time.Millisecond)
	}

	if cwd == "" {
		cwd = sh.pathVal.Roots()[0]
	}
	safeCwd, err := sh.pathVal.Validate(cwd)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}
	if info, err := os.Stat(safeCwd); err != nil || !info.IsDir() {
		return Errorf(ErrCodeValidation, "cwd is not a directory: %s", cwd)
	}

	sh.logger.Info("run_command", "command", command, "cwd", safeCwd, "timeout_ms", timeoutMS)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shellFor(useLoginShell), shellArgs(useLoginShell, command)...) // #nosec G204 -- validated above
	cmd.Dir = safeCwd
	cmd.Env = overlayEnv(os.Environ(), envOverlay)
	// The command runs in its own process group so a timeout can take the
	// whole tree down, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	stdout := newCappedBuffer(maxCaptureBytes)
	stderr := newCappedBuffer(maxCaptureBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return Errorf(ErrCodeTimeout, "command timed out after %d ms", timeoutMS)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Errorf(ErrCodeExternal, "starting command: %v", runErr)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit status: %d (in %d ms)\n", exitCode, elapsed.Milliseconds())
	if out := stdout.String(); out != "" {
		b.WriteString("--- stdout ---\n")
		b.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			b.WriteString("\n")
		}
		if stdout.Truncated() {
			b.WriteString("[stdout truncated at 10 MiB]\n")
		}
	}
	if errOut := stderr.String(); errOut != "" {
		b.WriteString("--- stderr ---\n")
		b.WriteString(errOut)
		if !strings.HasSuffix(errOut, "\n") {
			b.WriteString("\n")
		}
		if stderr.Truncated() {
			b.WriteString("[stderr truncated at 10 MiB]\n")
		}
	}

	return Success(fmt.Sprintf("exit status %d", exitCode), b.String())
}

// shellFor picks the shell binary for a command.
func shellFor(login bool) string {
	if login {
		if sh := os.Getenv("SHELL"); sh != "" {
			return sh
		}
	}
	return "/bin/sh"
}

// shellArgs builds the argument vector: login shells get -l so profile
// files run and PATH matches the user's terminal.
func shellArgs(login bool, command string) []string {
	if login {
		return []string{"-l", "-c", command}
	}
	return []string{"-c", command}
}

// overlayEnv appends overlay variables to a base environment; later
// entries win for duplicate keys, which is exactly what exec.Cmd does.
func overlayEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	out := append([]string(nil), base...)
	for _, k := range sortedKeys(overlay) {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// cappedBuffer collects writes up to a byte limit, then discards.
type cappedBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }

func (c *cappedBuffer) Truncated() bool { return c.truncated }

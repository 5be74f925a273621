package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
)

// ProcessState tracks a supervised process through its lifecycle.
type ProcessState string

const (
	ProcessStarting ProcessState = "starting"
	ProcessRunning  ProcessState = "running"
	ProcessExited   ProcessState = "exited"
	ProcessKilled   ProcessState = "killed"
)

// processBufferSize is the per-stream circular capture buffer (64 KiB).
const processBufferSize = 64 * 1024

// killGracePeriod is how long kill_process waits after SIGTERM before
// escalating to SIGKILL.
const killGracePeriod = 2 * time.Second

// defaultTailLines is the number of output lines get_process_output
// returns when no tail is given.
const defaultTailLines = 100

// processRecord is one supervised background process. State fields go
// through mu; the stdout and stderr buffers carry their own locks, which
// the child's pipe readers and output readers share.
type processRecord struct {
	mu sync.Mutex

	id      string
	command string
	cwd     string
	started time.Time

	cmd    *exec.Cmd
	state  ProcessState
	exit   *int // set once the process has exited

	stdout *ringBuffer
	stderr *ringBuffer
}

// ProcessSnapshot is the immutable view handed to readers.
type ProcessSnapshot struct {
	ID      string
	Command string
	Cwd     string
	Started time.Time
	State   ProcessState
	Exit    *int
	PID     int
}

// Supervisor owns the background-process table. It is the only component
// that mutates the table; readers receive consistent snapshots. The table
// lock is never held across process waits or pipe reads.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*processRecord

	pathVal *security.Path
	cmdVal  *security.Command
	logger  log.Logger
}

// NewSupervisor creates the process supervisor.
func NewSupervisor(pathVal *security.Path, cmdVal *security.Command, logger log.Logger) (*Supervisor, error) {
	if pathVal == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if cmdVal == nil {
		return nil, fmt.Errorf("command validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Supervisor{
		procs:   make(map[string]*processRecord),
		pathVal: pathVal,
		cmdVal:  cmdVal,
		logger:  logger,
	}, nil
}

// Descriptors returns the process tool descriptors.
func (s *Supervisor) Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name: "run_background",
			Description: "Start a named background process. The process is detached from " +
				"the server's terminal, survives server shutdown, and its output is " +
				"captured into a bounded buffer readable with get_process_output.",
			Category: CategoryShell,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"command": {Type: "string", Description: "Command line to execute through the shell"},
					"id":      {Type: "string", Description: "Unique identifier for this process"},
					"cwd":     {Type: "string", Description: "Working directory (must be inside an allowed root)"},
				},
				Required: []string{"command", "id"},
			},
			Handler: s.RunBackground,
		},
		{
			Name:        "list_processes",
			Description: "List supervised background processes with their state and exit codes.",
			Category:    CategoryShell,
			Schema:      &jsonschema.Schema{Type: "object"},
			Handler:     s.ListProcesses,
		},
		{
			Name:        "get_process_output",
			Description: "Return the last captured stdout and stderr lines of a background process.",
			Category:    CategoryShell,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"id":   {Type: "string", Description: "Process identifier"},
					"tail": {Type: "integer", Description: "Number of trailing lines per stream (default 100)"},
				},
				Required: []string{"id"},
			},
			Handler: s.GetProcessOutput,
		},
		{
			Name: "kill_process",
			Description: "Terminate a background process (SIGTERM, then SIGKILL after a " +
				"grace period) and remove it from the table.",
			Category: CategoryShell,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"id": {Type: "string", Description: "Process identifier"},
				},
				Required: []string{"id"},
			},
			Handler: s.KillProcess,
		},
	}
}

// RunBackground spawns a named detached process.
func (s *Supervisor) RunBackground(_ context.Context, args map[string]any) Result {
	command := argString(args, "command")
	id := argString(args, "id")
	cwd := argString(args, "cwd")

	if strings.TrimSpace(id) == "" {
		return Errorf(ErrCodeValidation, "id cannot be empty")
	}
	if err := s.cmdVal.Validate(command); err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}
	if cwd == "" {
		cwd = s.pathVal.Roots()[0]
	}
	safeCwd, err := s.pathVal.Validate(cwd)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}

	rec := &processRecord{
		id:      id,
		command: command,
		cwd:     safeCwd,
		started: time.Now(),
		state:   ProcessStarting,
		stdout:  newRingBuffer(processBufferSize),
		stderr:  newRingBuffer(processBufferSize),
	}

	// Reserve the id before spawning so two racing calls cannot both start.
	s.mu.Lock()
	if _, exists := s.procs[id]; exists {
		s.mu.Unlock()
		return Errorf(ErrCodeConflict, "a background process with id %q already exists", id)
	}
	s.procs[id] = rec
	s.mu.Unlock()

	// The background command is intentionally not tied to a request
	// context: it must outlive the call and, by design, the server.
	cmd := exec.Command("/bin/sh", "-c", command) // #nosec G204 -- validated above
	cmd.Dir = safeCwd
	// New session: detached from the server's controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.remove(id)
		return Errorf(ErrCodeExternal, "creating stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		s.remove(id)
		return Errorf(ErrCodeExternal, "creating stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		s.remove(id)
		return Errorf(ErrCodeExternal, "starting process: %v", err)
	}

	rec.mu.Lock()
	rec.cmd = cmd
	rec.state = ProcessRunning
	rec.mu.Unlock()

	// Pipe readers append into the bounded buffers until EOF.
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		rec.stdout.drainFrom(stdoutPipe)
	}()
	go func() {
		defer readers.Done()
		rec.stderr.drainFrom(stderrPipe)
	}()

	// The waiter records the exit status; the record stays queryable.
	go func() {
		readers.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		rec.mu.Lock()
		if rec.state != ProcessKilled {
			rec.state = ProcessExited
		}
		rec.exit = &code
		rec.mu.Unlock()
		s.logger.Info("background process exited", "id", id, "exit", code)
	}()

	s.logger.Info("background process started", "id", id, "pid", cmd.Process.Pid, "command", command)
	return Success(fmt.Sprintf("started background process %q (pid %d)", id, cmd.Process.Pid), nil)
}

// ListProcesses returns a snapshot of the table.
func (s *Supervisor) ListProcesses(_ context.Context, _ map[string]any) Result {
	snapshots := s.Snapshot()
	if len(snapshots) == 0 {
		return Success("no background processes", "")
	}

	var b strings.Builder
	for _, snap := range snapshots {
		status := string(snap.State)
		if snap.Exit != nil {
			status = fmt.Sprintf("%s (exit %d)", snap.State, *snap.Exit)
		}
		fmt.Fprintf(&b, "%-16s %-20s pid=%-8d started=%s  %s\n",
			snap.ID, status, snap.PID,
			snap.Started.Format("15:04:05"), snap.Command)
	}
	return Success(fmt.Sprintf("%d background processes", len(snapshots)), b.String())
}

// Snapshot returns consistent copies of every record, sorted by id.
func (s *Supervisor) Snapshot() []ProcessSnapshot {
	s.mu.Lock()
	recs := make([]*processRecord, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	out := make([]ProcessSnapshot, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		snap := ProcessSnapshot{
			ID:      rec.id,
			Command: rec.command,
			Cwd:     rec.cwd,
			Started: rec.started,
			State:   rec.state,
		}
		if rec.exit != nil {
			code := *rec.exit
			snap.Exit = &code
		}
		if rec.cmd != nil && rec.cmd.Process != nil {
			snap.PID = rec.cmd.Process.Pid
		}
		rec.mu.Unlock()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetProcessOutput returns the captured output tails of one process.
func (s *Supervisor) GetProcessOutput(_ context.Context, args map[string]any) Result {
	id := argString(args, "id")
	tail := argInt(args, "tail", defaultTailLines)
	if tail <= 0 {
		return Errorf(ErrCodeValidation, "tail must be positive")
	}

	s.mu.Lock()
	rec, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return Errorf(ErrCodeNotFound, "background process not found: %s", id)
	}

	rec.mu.Lock()
	state := rec.state
	exit := rec.exit
	rec.mu.Unlock()

	var b strings.Builder
	status := string(state)
	if exit != nil {
		status = fmt.Sprintf("%s (exit %d)", state, *exit)
	}
	fmt.Fprintf(&b, "process %s: %s\n", id, status)

	writeTail := func(name string, rb *ringBuffer) {
		lines := lastLines(rb.String(), tail)
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "--- %s (last %d lines) ---\n", name, len(lines))
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	writeTail("stdout", rec.stdout)
	writeTail("stderr", rec.stderr)

	return Success(fmt.Sprintf("process %s: %s", id, status), b.String())
}

// KillProcess terminates a process and removes its record.
func (s *Supervisor) KillProcess(_ context.Context, args map[string]any) Result {
	id := argString(args, "id")

	s.mu.Lock()
	rec, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return Errorf(ErrCodeNotFound, "background process not found: %s", id)
	}

	rec.mu.Lock()
	running := rec.state == ProcessStarting || rec.state == ProcessRunning
	var pid int
	if rec.cmd != nil && rec.cmd.Process != nil {
		pid = rec.cmd.Process.Pid
	}
	if running {
		rec.state = ProcessKilled
	}
	rec.mu.Unlock()

	if running && pid > 0 {
		// SIGTERM the whole session, grace period, then SIGKILL.
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		deadline := time.Now().Add(killGracePeriod)
		for time.Now().Before(deadline) {
			if !processAlive(pid) {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if processAlive(pid) {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}

	s.remove(id)
	s.logger.Info("background process killed", "id", id, "pid", pid)
	return Success(fmt.Sprintf("killed background process %q", id), nil)
}

// remove drops a record from the table.
func (s *Supervisor) remove(id string) {
	s.mu.Lock()
	delete(s.procs, id)
	s.mu.Unlock()
}

// processAlive reports whether a pid still exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// lastLines returns the trailing n lines of captured output.
func lastLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// ringBuffer is a bounded circular byte buffer: writes past the capacity
// discard the oldest bytes. Reads and writes synchronize on an internal
// mutex so pipe-reader goroutines and snapshot readers never race.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int
	size  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, capacity)}
}

// Write appends bytes, discarding the oldest on overflow.
func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	capacity := len(r.buf)
	if n >= capacity {
		copy(r.buf, p[n-capacity:])
		r.start = 0
		r.size = capacity
		return n, nil
	}

	writePos := (r.start + r.size) % capacity
	tail := copy(r.buf[writePos:], p)
	if tail < n {
		copy(r.buf, p[tail:])
	}

	r.size += n
	if r.size > capacity {
		r.start = (r.start + r.size - capacity) % capacity
		r.size = capacity
	}
	return n, nil
}

// drainFrom drains a reader into the buffer until EOF.
func (r *ringBuffer) drainFrom(src io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			_, _ = r.Write(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// String returns the buffered content oldest-first.
func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.size)
	tail := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	if tail < r.size {
		copy(out[tail:], r.buf[:r.size-tail])
	}
	return string(out)
}

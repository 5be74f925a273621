package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
)

// Tool categories, used for grouping in tool_list and the system prompt.
const (
	CategoryFilesystem = "filesystem"
	CategorySearch     = "search"
	CategoryShell      = "shell"
	CategorySystem     = "system"
	CategoryAgent      = "agent"
)

// metaTools are always enabled and can never be disabled; without them a
// client could lock itself out of the toggling mechanism.
var metaTools = map[string]bool{
	"tool_list":    true,
	"tool_enable":  true,
	"tool_disable": true,
}

// toolNameRe constrains tool names to lowercase alphanumerics and underscore.
var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Handler executes a tool against its validated argument map.
type Handler func(ctx context.Context, args map[string]any) Result

// Descriptor describes one tool: its wire name, description, parameter
// schema, category and handler. Enabled state lives in the registry.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	Schema      *jsonschema.Schema
	Handler     Handler

	resolved *jsonschema.Resolved
}

// Registry owns the tool descriptors and their enabled state. All methods
// are safe for concurrent use. Lookups during dispatch take a read lock;
// enable/disable take the write lock and fire the change notification
// outside of it.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	state  map[string]bool // name -> enabled
	order  []string        // registration order

	notify func(name string, enabled bool)
	logger log.Logger
}

// NewRegistry creates a registry pre-populated with the three meta tools.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Registry{
		byName: make(map[string]*Descriptor),
		state:  make(map[string]bool),
		logger: logger,
	}
	r.registerMeta()
	return r
}

// SetNotify installs a callback fired after every enable/disable
// transition. The MCP layer uses it to keep the advertised tool list in
// sync. Must be set before the server starts dispatching.
func (r *Registry) SetNotify(fn func(name string, enabled bool)) {
	r.notify = fn
}

// Register adds a descriptor in the enabled state. Duplicate names and
// malformed names are startup errors.
func (r *Registry) Register(d Descriptor) error {
	if !toolNameRe.MatchString(d.Name) {
		return fmt.Errorf("invalid tool name %q", d.Name)
	}
	if d.Description == "" {
		return fmt.Errorf("tool %s: description is required", d.Name)
	}
	if d.Schema == nil {
		return fmt.Errorf("tool %s: schema is required", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", d.Name)
	}

	resolved, err := d.Schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolving schema: %w", d.Name, err)
	}
	d.resolved = resolved

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("duplicate tool name %q", d.Name)
	}
	r.byName[d.Name] = &d
	r.state[d.Name] = true
	r.order = append(r.order, d.Name)
	return nil
}

// Lookup returns a descriptor by name (including disabled tools, for
// diagnostics) and whether it is currently enabled.
func (r *Registry) Lookup(name string) (*Descriptor, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return nil, false, false
	}
	return d, r.state[name], true
}

// Enabled returns the enabled descriptors in registration order.
func (r *Registry) Enabled() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		if r.state[name] {
			out = append(out, r.byName[name])
		}
	}
	return out
}

// Names returns every registered tool name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Enable marks a tool as enabled.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable marks a tool as disabled. The meta tools refuse.
func (r *Registry) Disable(name string) error {
	if metaTools[name] {
		return fmt.Errorf("tool %s cannot be disabled", name)
	}
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	if _, ok := r.byName[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown tool %q", name)
	}
	changed := r.state[name] != enabled
	r.state[name] = enabled
	notify := r.notify
	r.mu.Unlock()

	if changed {
		r.logger.Info("tool state changed", "tool", name, "enabled", enabled)
		if notify != nil {
			notify(name, enabled)
		}
	}
	return nil
}

// Call dispatches a tool invocation: lookup, argument validation, handler
// execution with panic containment. It always returns a Result; the error
// taxonomy is encoded in the result, never raised.
func (r *Registry) Call(ctx context.Context, name string, raw json.RawMessage) (result Result) {
	d, enabled, ok := r.Lookup(name)
	if !ok {
		return Errorf(ErrCodeNotFound, "tool not found: %s", name)
	}
	if !enabled {
		return Errorf(ErrCodeValidation, "tool is disabled: %s (enable it with tool_enable)", name)
	}

	args, verr := validateArgs(d, raw)
	if verr != nil {
		return Errorf(ErrCodeValidation, "invalid arguments for %s: %v", name, verr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				"tool", name, "panic", rec, "stack", string(debug.Stack()))
			result = Errorf(ErrCodeInternal, "internal error while executing %s", name)
		}
	}()

	return d.Handler(ctx, args)
}

// validateArgs unmarshals raw JSON arguments and validates them against
// the descriptor's resolved schema. Missing required fields are reported
// by name before the full schema walk so the most common failure carries
// the most specific message. Properties not declared in the schema are
// tolerated but not passed through to the handler.
func validateArgs(d *Descriptor, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	for _, req := range d.Schema.Required {
		if _, ok := args[req]; !ok {
			return nil, fmt.Errorf("missing required field %q", req)
		}
	}

	known := args
	if len(d.Schema.Properties) > 0 {
		known = make(map[string]any, len(args))
		for key, val := range args {
			if _, ok := d.Schema.Properties[key]; ok {
				known[key] = val
			}
		}
	}

	if err := d.resolved.Validate(known); err != nil {
		return nil, err
	}
	return known, nil
}

// registerMeta installs tool_list, tool_enable and tool_disable. They are
// ordinary descriptors whose handlers close over the registry.
func (r *Registry) registerMeta() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(Descriptor{
		Name:        "tool_list",
		Description: "List every registered tool with its category and enabled state.",
		Category:    CategorySystem,
		Schema:      &jsonschema.Schema{Type: "object"},
		Handler:     r.handleToolList,
	}))
	must(r.Register(Descriptor{
		Name:        "tool_enable",
		Description: "Enable a previously disabled tool by name.",
		Category:    CategorySystem,
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Name of the tool to enable"},
			},
			Required: []string{"name"},
		},
		Handler: r.handleToolEnable,
	}))
	must(r.Register(Descriptor{
		Name:        "tool_disable",
		Description: "Disable a tool by name. The tool_* management tools cannot be disabled.",
		Category:    CategorySystem,
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Name of the tool to disable"},
			},
			Required: []string{"name"},
		},
		Handler: r.handleToolDisable,
	}))
}

func (r *Registry) handleToolList(_ context.Context, _ map[string]any) Result {
	r.mu.RLock()
	type row struct {
		name, category string
		enabled        bool
	}
	rows := make([]row, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name]
		rows = append(rows, row{name: d.Name, category: d.Category, enabled: r.state[name]})
	}
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].category != rows[j].category {
			return rows[i].category < rows[j].category
		}
		return rows[i].name < rows[j].name
	})

	var b strings.Builder
	lastCategory := ""
	for _, row := range rows {
		if row.category != lastCategory {
			fmt.Fprintf(&b, "[%s]\n", row.category)
			lastCategory = row.category
		}
		state := "enabled"
		if !row.enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  %-20s %s\n", row.name, state)
	}
	return Success(fmt.Sprintf("%d tools registered", len(rows)), b.String())
}

func (r *Registry) handleToolEnable(_ context.Context, args map[string]any) Result {
	name := argString(args, "name")
	if err := r.Enable(name); err != nil {
		return Errorf(ErrCodeNotFound, "%v", err)
	}
	return Success(fmt.Sprintf("tool enabled: %s", name), nil)
}

func (r *Registry) handleToolDisable(_ context.Context, args map[string]any) Result {
	name := argString(args, "name")
	if metaTools[name] {
		return Errorf(ErrCodeValidation, "tool %s cannot be disabled", name)
	}
	if err := r.Disable(name); err != nil {
		return Errorf(ErrCodeNotFound, "%v", err)
	}
	return Success(fmt.Sprintf("tool disabled: %s", name), nil)
}

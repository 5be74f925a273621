package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
)

// EditTools provides the in-place text edit handlers. Edits are literal
// (no regular-expression interpretation), whitespace-significant, and
// atomic per file: the new content is written to a temporary file and
// renamed over the target, under an advisory lock so two edit calls to
// the same file serialize their read-modify-write cycles.
type EditTools struct {
	pathVal *security.Path
	logger  log.Logger
}

// NewEditTools creates the edit toolset.
func NewEditTools(pathVal *security.Path, logger log.Logger) (*EditTools, error) {
	if pathVal == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &EditTools{pathVal: pathVal, logger: logger}, nil
}

// editProperties returns the schema properties shared between the single
// edit tool and the items of the multi_edit batch.
func editProperties() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"old_text":    {Type: "string", Description: "Exact text to replace; must occur exactly once unless replace_all is set"},
		"new_text":    {Type: "string", Description: "Replacement text"},
		"replace_all": {Type: "boolean", Description: "Replace every occurrence instead of requiring a unique match"},
	}
}

// Descriptors returns the edit tool descriptors.
func (e *EditTools) Descriptors() []Descriptor {
	editProps := editProperties()
	editProps["path"] = &jsonschema.Schema{Type: "string", Description: "Absolute path of the file to edit"}

	return []Descriptor{
		{
			Name: "edit",
			Description: "Replace text in a file. The old text must match exactly once; " +
				"an ambiguous or missing match fails without touching the file. " +
				"Set replace_all to substitute every occurrence.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type:       "object",
				Properties: editProps,
				Required:   []string{"path", "old_text", "new_text"},
			},
			Handler: e.Edit,
		},
		{
			Name: "multi_edit",
			Description: "Apply an ordered batch of text edits to one file atomically: " +
				"if any edit fails to match, the file is left unchanged.",
			Category: CategoryFilesystem,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path": {Type: "string", Description: "Absolute path of the file to edit"},
					"edits": {
						Type:        "array",
						Description: "Edits applied in order, each against the result of the previous one",
						Items: &jsonschema.Schema{
							Type:       "object",
							Properties: editProperties(),
							Required:   []string{"old_text", "new_text"},
						},
					},
				},
				Required: []string{"path", "edits"},
			},
			Handler: e.MultiEdit,
		},
	}
}

// editOp is one (oldText, newText, replaceAll) triple.
type editOp struct {
	oldText    string
	newText    string
	replaceAll bool
}

// apply performs the edit against content and returns the new content and
// the replacement count. An error leaves the caller's batch aborted.
func (op editOp) apply(content string) (string, int, error) {
	if op.oldText == "" {
		return "", 0, fmt.Errorf("old_text cannot be empty")
	}
	count := strings.Count(content, op.oldText)

	if op.replaceAll {
		// Zero replacements with replace_all is a success by choice; the
		// result message reports the count so the caller can tell.
		return strings.ReplaceAll(content, op.oldText, op.newText), count, nil
	}

	switch count {
	case 0:
		return "", 0, fmt.Errorf("old_text not found in file")
	case 1:
		return strings.Replace(content, op.oldText, op.newText, 1), 1, nil
	default:
		return "", 0, fmt.Errorf("old_text is ambiguous (%d matches); add more surrounding context", count)
	}
}

// Edit applies a single uniqueness-checked edit to a file.
func (e *EditTools) Edit(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")
	op := editOp{
		oldText:    argString(args, "old_text"),
		newText:    argString(args, "new_text"),
		replaceAll: argBool(args, "replace_all", false),
	}
	e.logger.Debug("edit", "path", path, "replace_all", op.replaceAll)

	return e.applyEdits(path, []editOp{op})
}

// MultiEdit applies an ordered batch of edits atomically.
func (e *EditTools) MultiEdit(_ context.Context, args map[string]any) Result {
	path := argString(args, "path")

	rawEdits, ok := args["edits"].([]any)
	if !ok || len(rawEdits) == 0 {
		return Errorf(ErrCodeValidation, "edits must be a non-empty array")
	}
	ops := make([]editOp, 0, len(rawEdits))
	for i, raw := range rawEdits {
		m, ok := raw.(map[string]any)
		if !ok {
			return Errorf(ErrCodeValidation, "edit %d is not an object", i)
		}
		ops = append(ops, editOp{
			oldText:    argString(m, "old_text"),
			newText:    argString(m, "new_text"),
			replaceAll: argBool(m, "replace_all", false),
		})
	}
	e.logger.Debug("multi_edit", "path", path, "edits", len(ops))

	return e.applyEdits(path, ops)
}

// applyEdits is the shared read-modify-write cycle. The file lock guards
// against a concurrent edit interleaving between our read and rename; it
// is the only lock a handler may hold across filesystem I/O.
func (e *EditTools) applyEdits(path string, ops []editOp) Result {
	safePath, err := e.pathVal.ValidateParent(path)
	if err != nil {
		return Errorf(ErrCodeSecurity, "%v", err)
	}

	lock := flock.New(safePath + ".lock")
	if err := lock.Lock(); err != nil {
		return Errorf(ErrCodeIO, "locking %s: %v", path, err)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(safePath + ".lock")
	}()

	data, err := os.ReadFile(safePath) // #nosec G304 -- validated above
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrCodeNotFound, "file not found: %s", path)
		}
		return Errorf(ErrCodeIO, "read %s: %v", path, err)
	}
	if isBinary(data) {
		return Errorf(ErrCodeValidation, "cannot edit binary file: %s", path)
	}

	content := string(data)
	totalReplacements := 0
	for i, op := range ops {
		next, n, err := op.apply(content)
		if err != nil {
			if len(ops) == 1 {
				return Errorf(ErrCodeConflict, "edit failed: %v", err)
			}
			return Errorf(ErrCodeConflict, "edit %d of %d failed: %v; file unchanged", i+1, len(ops), err)
		}
		content = next
		totalReplacements += n
	}

	if err := atomicWrite(safePath, []byte(content)); err != nil {
		return Errorf(ErrCodeIO, "writing %s: %v", path, err)
	}

	return Success(
		fmt.Sprintf("edited %s: %d replacement(s) across %d edit(s)", safePath, totalReplacements, len(ops)),
		nil,
	)
}

// Package bridge wires MCP tools into the supervisor's tool registry.
//
// A [Hardener] wraps every tool — remote MCP tools and in-process ones alike —
// into a validating pipeline that runs before and after each call:
//
//  1. parse the JSON arguments (empty means "{}")
//  2. normalize common structural mistakes (per-tool hook)
//  3. semantic preflight validation (per-tool hook)
//  4. JSON Schema validation against the tool's parameters
//  5. invoke the underlying tool
//  6. normalize provider HTTP validation errors into a stable payload
//  7. trim oversized outputs into compact summaries
//  8. record a grounding event for the turn
//
// Validation failures are returned to the model as structured JSON payloads
// with a nil Go error, so the model can read the problem and repair its
// arguments. Only transport-level failures surface as Go errors.
//
// Typical usage:
//
//	h := bridge.NewHardener(bridge.WithLogger(logger))
//	registry := h.WrapAll(append(bridge.HostTools(host), localTools...))
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/parleyio/parley/internal/grounding"
	"github.com/parleyio/parley/internal/mcp"
	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// defaultToolTimeout is the context deadline applied to each tool execution.
const defaultToolTimeout = 30 * time.Second

// Trim defaults and clamps, applied by the functional options.
const (
	defaultTrimMaxChars = 4000
	minTrimMaxChars     = 500
	maxTrimMaxChars     = 20000

	defaultTrimMaxItems = 5
	minTrimMaxItems     = 1
	maxTrimMaxItems     = 20
)

// Option is a functional option for configuring a [Hardener].
type Option func(*Hardener)

// WithLogger sets the logger used for validation and normalization events.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hardener) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithToolTimeout sets the deadline applied to each individual tool execution.
// The default is 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(h *Hardener) {
		if d > 0 {
			h.toolTimeout = d
		}
	}
}

// WithTrimming enables or disables output trimming. The default is enabled.
func WithTrimming(enabled bool) Option {
	return func(h *Hardener) {
		h.trimEnabled = enabled
	}
}

// WithTrimLimits sets the output-trimming bounds. maxChars is clamped to
// [500, 20000] and maxItems to [1, 20]; zero values keep the defaults.
func WithTrimLimits(maxChars, maxItems int) Option {
	return func(h *Hardener) {
		if maxChars != 0 {
			h.trimMaxChars = clamp(maxChars, minTrimMaxChars, maxTrimMaxChars)
		}
		if maxItems != 0 {
			h.trimMaxItems = clamp(maxItems, minTrimMaxItems, maxTrimMaxItems)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Hardener wraps tools into the validating pipeline. It is safe for
// concurrent use; the repeat-counter state is shared across all wrapped tools
// so repeated provider validation errors are visible process-wide.
type Hardener struct {
	logger      *slog.Logger
	toolTimeout time.Duration

	trimEnabled  bool
	trimMaxChars int
	trimMaxItems int

	mu        sync.Mutex
	repeats   map[repeatKey]repeatEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewHardener creates a Hardener with the given options applied.
func NewHardener(opts ...Option) *Hardener {
	h := &Hardener{
		logger:       slog.Default(),
		toolTimeout:  defaultToolTimeout,
		trimEnabled:  true,
		trimMaxChars: defaultTrimMaxChars,
		trimMaxItems: defaultTrimMaxItems,
		repeats:      make(map[repeatKey]repeatEntry),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HostTools adapts every tool in the host's catalogue into a [tools.Tool]
// whose handler routes execution back through the host. Application-level
// tool failures come back as the result string so the model can read them;
// only transport failures surface as Go errors.
func HostTools(host mcp.Host) []tools.Tool {
	defs := host.Tools()
	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, HostTool(host, def))
	}
	return out
}

// HostTool adapts a single host tool definition into a [tools.Tool].
func HostTool(host mcp.Host, def llm.ToolDefinition) tools.Tool {
	name := def.Name
	return tools.Tool{
		Definition: def,
		Handler: func(ctx context.Context, args string) (string, error) {
			result, err := host.ExecuteTool(ctx, name, args)
			if err != nil {
				return "", fmt.Errorf("bridge: tool %q execution failed: %w", name, err)
			}
			return result.Content, nil
		},
	}
}

// WrapAll wraps every tool in ts. The returned slice preserves order.
func (h *Hardener) WrapAll(ts []tools.Tool) []tools.Tool {
	out := make([]tools.Tool, 0, len(ts))
	for _, t := range ts {
		out = append(out, h.Wrap(t))
	}
	return out
}

// Wrap returns a tool with the same definition whose handler runs the full
// validating pipeline around t's handler. The tool's JSON Schema is compiled
// once here; a schema that fails to compile disables schema validation for
// this tool with a warning, it does not fail the wrap.
func (h *Hardener) Wrap(t tools.Tool) tools.Tool {
	name := t.Definition.Name
	schemaJSON := t.Definition.Parameters
	schema := h.compileSchema(name, schemaJSON)
	validator := validatorFor(name)
	inner := t.Handler

	wrapped := t
	wrapped.Handler = func(ctx context.Context, args string) (string, error) {
		met := observe.DefaultMetrics()

		argsMap := map[string]any{}
		if strings.TrimSpace(args) != "" {
			if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
				payload := schemaErrorPayload(name, args, []string{"arguments are not valid JSON: " + err.Error()}, schemaJSON)
				h.logger.Warn("tool arguments are not valid JSON", "tool", name, "error", err)
				met.RecordToolValidationFailure(ctx, name, "args")
				grounding.RecordResult(ctx, name, payload)
				return payload, nil
			}
		}

		argsMap, changed := validator.NormalizeArgs(name, argsMap)
		if changed {
			h.logger.Warn("tool args normalized", "tool", name)
		}

		if payload := validator.PreValidate(name, argsMap, schemaJSON); payload != "" {
			h.logger.Warn("tool semantic validation failed", "tool", name)
			met.RecordToolValidationFailure(ctx, name, "args")
			grounding.RecordResult(ctx, name, payload)
			return payload, nil
		}

		if schema != nil {
			if err := schema.Validate(argsMap); err != nil {
				msgs := validationMessages(err)
				payload := schemaErrorPayload(name, argsMap, msgs, schemaJSON)
				h.logger.Warn("tool schema validation failed", "tool", name, "errors", len(msgs))
				met.RecordToolValidationFailure(ctx, name, "args")
				grounding.RecordResult(ctx, name, payload)
				return payload, nil
			}
		}

		normArgs, err := json.Marshal(argsMap)
		if err != nil {
			grounding.Record(ctx, name, false)
			return "", fmt.Errorf("bridge: tool %q: failed to encode normalized args: %w", name, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, h.toolTimeout)
		defer cancel()

		start := time.Now()
		result, err := inner(callCtx, string(normArgs))
		met.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			met.RecordToolCall(ctx, name, "error")
			grounding.Record(ctx, name, false)
			return "", err
		}

		if normalized, ok := h.normalizeProviderError(name, result); ok {
			met.RecordToolCall(ctx, name, "error")
			met.RecordToolValidationFailure(ctx, name, "result")
			grounding.RecordResult(ctx, name, normalized)
			return normalized, nil
		}

		met.RecordToolCall(ctx, name, "ok")
		result = h.maybeTrim(name, argsMap, result)
		grounding.RecordResult(ctx, name, result)
		return result, nil
	}
	return wrapped
}

// compileSchema compiles the tool's parameter schema. A nil return disables
// schema validation for the tool.
func (h *Hardener) compileSchema(name string, params map[string]any) *jsonschema.Schema {
	if len(params) == 0 {
		return nil
	}

	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(params)
	if err != nil {
		h.logger.Warn("tool schema not encodable, skipping schema validation", "tool", name, "error", err)
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		h.logger.Warn("tool schema not decodable, skipping schema validation", "tool", name, "error", err)
		return nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		h.logger.Warn("tool schema rejected by compiler, skipping schema validation", "tool", name, "error", err)
		return nil
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		h.logger.Warn("tool schema failed to compile, skipping schema validation", "tool", name, "error", err)
		return nil
	}
	return schema
}

// validationMessages flattens a schema validation error into one message per
// violation. The first line of the error is a summary header and is dropped
// when detail lines follow.
func validationMessages(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "- ")
		if l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(err.Error()))
	}
	return out
}

// schemaErrorPayload builds the canonical local_schema_validation payload.
func schemaErrorPayload(tool string, inputArgs any, validationErrors []string, schema map[string]any) string {
	return marshalPayload(map[string]any{
		"error_type":        "validation_error",
		"source":            "local_schema_validation",
		"tool":              tool,
		"message":           "Tool arguments failed schema validation. Fix args and retry once.",
		"input_args":        inputArgs,
		"validation_errors": validationErrors,
		"schema":            schema,
	})
}

// marshalPayload encodes a validation payload, falling back to a minimal
// error document if the payload itself cannot be encoded.
func marshalPayload(payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"error_type":"validation_error","message":"failed to encode validation payload"}`
	}
	return string(b)
}

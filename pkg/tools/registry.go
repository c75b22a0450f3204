// Package tools declares the analysis operations the agent may invoke and
// executes them safely against a dataset.
//
// Registration happens once at process start; the registry is immutable
// afterwards and shared read-only across all sessions. Every tool is
// required to be read-only with respect to the dataset and idempotent.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tabletalk/tabletalk/pkg/dataset"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownTool is returned when dispatching a name that was never
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports which fields failed schema validation. The
// tool handler is never executed when validation fails.
type InvalidArgumentsError struct {
	Tool   string
	Fields []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Fields, "; "))
}

// Parameter declares one tool argument.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Handler executes a tool against a dataset. Handlers must treat the table
// as read-only.
type Handler func(ctx context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error)

// Definition is a tool's metadata plus its handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Descriptor is the schema payload handed to the language model to declare
// the tool's calling contract.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Result is the outcome of one tool execution. Execution failures are
// captured here rather than raised, so the orchestrator can feed them back
// into the conversation.
type Result struct {
	Tool     string        `json:"tool"`
	OK       bool          `json:"ok"`
	Output   interface{}   `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Registry holds the process-wide tool set.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	order   []string
	logger  zerolog.Logger
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Register adds a tool and compiles its argument schema.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("tool %s: failed to compile schema: %w", def.Name, err)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	r.order = append(r.order, def.Name)

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns a tool definition, or nil.
func (r *Registry) Get(name string) *Definition {
	return r.tools[name]
}

// List returns registered tool names in registration order.
func (r *Registry) List() []string {
	return append([]string(nil), r.order...)
}

// Descriptors returns the schema payloads for all tools, in registration
// order.
func (r *Registry) Descriptors() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		descriptors = append(descriptors, Descriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return descriptors
}

// Dispatch validates args against the tool's schema and executes it.
// Unknown names and invalid arguments are returned as errors; handler
// failures come back as a failed Result with a nil error.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}, t *dataset.Table) (Result, error) {
	def, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := r.validate(name, args); err != nil {
		return Result{}, err
	}

	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		output, err := def.Handler(execCtx, t, args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- output
	}()

	select {
	case output := <-resultCh:
		duration := time.Since(start)
		r.logger.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool executed")
		return Result{Tool: name, OK: true, Output: output, Duration: duration}, nil

	case err := <-errCh:
		duration := time.Since(start)
		r.logger.Debug().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool failed")
		return Result{Tool: name, OK: false, Error: err.Error(), Duration: duration}, nil

	case <-execCtx.Done():
		duration := time.Since(start)
		r.logger.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool timed out")
		return Result{Tool: name, OK: false, Error: fmt.Sprintf("tool %s timed out after %v", name, r.timeout), Duration: duration}, nil
	}
}

func (r *Registry) validate(name string, args map[string]interface{}) error {
	result, err := r.schemas[name].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &InvalidArgumentsError{Tool: name, Fields: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		fields = append(fields, resErr.String())
	}
	sort.Strings(fields)
	return &InvalidArgumentsError{Tool: name, Fields: fields}
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputSchema(&def)))
}

func inputSchema(def *Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

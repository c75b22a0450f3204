package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tabletalk/tabletalk/pkg/analysis"
	"github.com/tabletalk/tabletalk/pkg/dataset"
	"github.com/tabletalk/tabletalk/pkg/index"
	"github.com/tabletalk/tabletalk/pkg/tools"
)

// Retriever answers top-K queries against a session's index.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]index.Result, error)
}

// Dispatcher validates and executes tool calls. *tools.Registry satisfies
// it; tests substitute fakes.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]interface{}, t *dataset.Table) (tools.Result, error)
	Descriptors() []tools.Descriptor
}

// Orchestrator executes exactly one conversation turn at a time.
type Orchestrator struct {
	provider LLMProvider
	tools    Dispatcher
	logger   zerolog.Logger
	cfg      Config
}

// Config bounds a turn's resource use.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	TopK          int           // retrieval depth
	HistoryWindow int           // recent turns included in the prompt
	MaxToolTurns  int           // hard cap on decide→execute iterations
	MaxRetries    int           // per model call
	TurnTimeout   time.Duration // wall-clock budget for the whole turn
}

// TurnRequest carries everything one turn needs. The table and index are
// owned by the calling session and treated as read-only here.
type TurnRequest struct {
	Table       *dataset.Table
	Index       Retriever
	History     []Message
	UserMessage string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(provider LLMProvider, dispatcher Dispatcher, logger zerolog.Logger, cfg Config) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	return &Orchestrator{provider: provider, tools: dispatcher, logger: logger, cfg: cfg}, nil
}

// RunTurn executes one turn: retrieve context, loop between model decisions
// and tool executions under a hard iteration cap, then synthesize the final
// answer and suggestions. Tool failures are folded back into the
// conversation; only upstream failures after retries fail the turn.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	// RETRIEVING
	retrieved := o.retrieve(ctx, req)
	system := o.systemPrompt(req.Table, retrieved)
	messages := o.promptMessages(req)

	var invocations []Invocation

	// DECIDING ⇄ TOOL_EXECUTING
	for step := 0; step < o.cfg.MaxToolTurns; step++ {
		decision, err := o.decideWithRetry(ctx, system, messages, o.tools.Descriptors())
		if err != nil {
			return nil, err
		}

		if len(decision.ToolCalls) == 0 {
			// SYNTHESIZING: the decision is the final answer.
			return o.finish(req, decision.Answer, invocations), nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   decision.Answer,
			ToolCalls: decision.ToolCalls,
		})

		for _, call := range decision.ToolCalls {
			inv, resultText := o.executeCall(ctx, req.Table, call)
			invocations = append(invocations, inv)
			messages = append(messages, Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
			})
		}
	}

	// Iteration cap hit: force a final synthesis from whatever was
	// gathered. The turn is still delivered, degraded rather than dropped.
	o.logger.Warn().Int("max_tool_turns", o.cfg.MaxToolTurns).Msg("Tool iteration cap reached, forcing synthesis")
	messages = append(messages, Message{
		Role:    "user",
		Content: "Answer the original question now using the tool results gathered so far. Do not request more tools.",
	})
	decision, err := o.decideWithRetry(ctx, system, messages, nil)
	if err != nil {
		return nil, err
	}
	return o.finish(req, decision.Answer, invocations), nil
}

func (o *Orchestrator) finish(req TurnRequest, answer string, invocations []Invocation) *TurnResult {
	if answer == "" {
		answer = "I could not produce an answer for that question. Could you rephrase it?"
	}
	return &TurnResult{
		Answer:      answer,
		Invocations: invocations,
		Suggestions: Suggestions(req.Table, answer),
	}
}

// retrieve runs the retriever and degrades to empty context on failure.
// An empty index is "no retrieved context", never an error.
func (o *Orchestrator) retrieve(ctx context.Context, req TurnRequest) []index.Result {
	if req.Index == nil {
		return nil
	}
	results, err := req.Index.Search(ctx, req.UserMessage, o.cfg.TopK)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Retrieval failed, continuing without context")
		return nil
	}
	return results
}

// executeCall dispatches one tool call. Dispatch errors (unknown tool,
// invalid arguments) and execution failures both become conversational
// context for the model's next decision.
func (o *Orchestrator) executeCall(ctx context.Context, table *dataset.Table, call ToolCall) (Invocation, string) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	result, err := o.tools.Dispatch(ctx, call.Name, call.Arguments, table)
	if err != nil {
		inv := Invocation{Tool: call.Name, Arguments: call.Arguments, Error: err.Error()}
		return inv, fmt.Sprintf("Tool call failed: %v", err)
	}

	inv := Invocation{
		Tool:      call.Name,
		Arguments: call.Arguments,
		Output:    result.Output,
		Error:     result.Error,
		Duration:  result.Duration,
	}
	if !result.OK {
		return inv, fmt.Sprintf("Tool %s failed: %s", call.Name, result.Error)
	}
	// The model sees tool output in the same JSON shape the descriptor
	// schema promised, not Go value syntax.
	payload, err := json.Marshal(result.Output)
	if err != nil {
		return inv, fmt.Sprintf("%v", result.Output)
	}
	return inv, string(payload)
}

// decideWithRetry calls the model with bounded retries and exponential
// backoff on retryable errors.
func (o *Orchestrator) decideWithRetry(ctx context.Context, system string, messages []Message, descriptors []tools.Descriptor) (*Decision, error) {
	var lastErr error

	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		decision, err := o.provider.Decide(ctx, DecideRequest{
			Model:       o.cfg.Model,
			System:      system,
			Messages:    messages,
			Tools:       descriptors,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		})
		if err == nil {
			return decision, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if attempt == o.cfg.MaxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		o.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying model call")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w: retries exhausted: %v", ErrUpstreamUnavailable, lastErr)
}

// systemPrompt builds the analyst persona plus dataset overview and any
// retrieved context.
func (o *Orchestrator) systemPrompt(table *dataset.Table, retrieved []index.Result) string {
	var b strings.Builder
	b.WriteString("You are an expert data analyst assistant. Answer questions about the ")
	b.WriteString("user's dataset. Use the provided tools for any computation; never invent ")
	b.WriteString("numbers. Be concise and format answers with markdown.\n")

	if table != nil {
		ov := analysis.TableOverview(table)
		fmt.Fprintf(&b, "\nDataset: %d rows, %d columns (%d numeric, %d categorical, %d datetime).\n",
			ov.Rows, ov.Columns, ov.NumericColumns, ov.CategoricalColumns, ov.DatetimeColumns)
		b.WriteString("Columns: " + strings.Join(table.ColumnNames(), ", ") + "\n")
	}

	if len(retrieved) > 0 {
		b.WriteString("\nRelevant dataset context:\n")
		for _, r := range retrieved {
			b.WriteString("- " + r.Chunk.Content + "\n")
		}
	}
	return b.String()
}

// promptMessages bounds history to the configured window and appends the
// current user message.
func (o *Orchestrator) promptMessages(req TurnRequest) []Message {
	history := req.History
	if len(history) > o.cfg.HistoryWindow {
		history = history[len(history)-o.cfg.HistoryWindow:]
	}
	messages := append([]Message(nil), history...)
	return append(messages, Message{Role: "user", Content: req.UserMessage})
}

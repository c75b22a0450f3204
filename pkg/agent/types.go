// Package agent runs single conversation turns: it retrieves dataset
// context, lets a language model decide between answering directly and
// calling analysis tools, executes requested tools, and synthesizes the
// final answer plus follow-up suggestions.
package agent

import (
	"errors"
	"strings"
	"time"
)

// Turn-level failures after the turn's own retry policy is exhausted.
var (
	ErrUpstreamTimeout     = errors.New("upstream call timed out")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)

// Message is one entry in the prompt the language model sees.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured tool invocation request from the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Decision is the model's closed choice for one step: either a direct
// answer or one or more tool calls. Providers must never populate ToolCalls
// from anything but a well-formed tool-call structure; malformed requests
// are dropped so the step falls through to direct answering.
type Decision struct {
	Answer    string     `json:"answer"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Invocation records one executed tool call attached to an assistant turn.
type Invocation struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// TurnResult is the outcome of one successful turn.
type TurnResult struct {
	Answer      string       `json:"answer"`
	Invocations []Invocation `json:"invocations,omitempty"`
	Suggestions []string     `json:"suggestions"`
}

// isRetryable reports whether an upstream error is worth retrying within
// the turn: rate limits, server errors and transient network failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"429", "rate limit",
		"500", "502", "503", "504",
		"connection reset", "connection refused", "timeout", "EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk/tabletalk/pkg/dataset"
	"github.com/tabletalk/tabletalk/pkg/index"
	"github.com/tabletalk/tabletalk/pkg/tools"
)

// scriptedProvider replays a fixed decision sequence.
type scriptedProvider struct {
	decisions []Decision
	errs      []error
	calls     int
	requests  []DecideRequest
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) Decide(ctx context.Context, req DecideRequest) (*Decision, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.decisions) {
		return &Decision{Answer: "done"}, nil
	}
	d := p.decisions[i]
	return &d, nil
}

// fakeDispatcher records calls and returns canned results.
type fakeDispatcher struct {
	results map[string]tools.Result
	errs    map[string]error
	calls   []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}, t *dataset.Table) (tools.Result, error) {
	d.calls = append(d.calls, name)
	if err, ok := d.errs[name]; ok {
		return tools.Result{}, err
	}
	if res, ok := d.results[name]; ok {
		return res, nil
	}
	return tools.Result{Tool: name, OK: true, Output: "ok"}, nil
}

func (d *fakeDispatcher) Descriptors() []tools.Descriptor {
	return []tools.Descriptor{{Name: "column_statistics", Description: "stats", InputSchema: map[string]interface{}{"type": "object"}}}
}

func newTestOrchestrator(t *testing.T, provider LLMProvider, dispatcher Dispatcher, cfg Config) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(provider, dispatcher, zerolog.Nop(), cfg)
	require.NoError(t, err)
	return o
}

func agentTestTable(t *testing.T) *dataset.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "region,amount,score\nNorth,100,1\nSouth,200,2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	table, err := dataset.Load(path, nil)
	require.NoError(t, err)
	return table
}

type stubRetriever struct {
	results []index.Result
	err     error
	queries []string
}

func (r *stubRetriever) Search(ctx context.Context, query string, k int) ([]index.Result, error) {
	r.queries = append(r.queries, query)
	return r.results, r.err
}

func TestRunTurn_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{decisions: []Decision{{Answer: "The mean is 150."}}}
	dispatcher := &fakeDispatcher{}
	o := newTestOrchestrator(t, provider, dispatcher, Config{})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "what is the mean amount?",
	})
	require.NoError(t, err)

	assert.Equal(t, "The mean is 150.", result.Answer)
	assert.Empty(t, result.Invocations)
	assert.NotEmpty(t, result.Suggestions)
	assert.Empty(t, dispatcher.calls)
}

func TestRunTurn_ToolLoop(t *testing.T) {
	provider := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{{ID: "1", Name: "column_statistics", Arguments: map[string]interface{}{"column": "amount"}}}},
		{Answer: "Mean amount is 150."},
	}}
	dispatcher := &fakeDispatcher{results: map[string]tools.Result{
		"column_statistics": {Tool: "column_statistics", OK: true, Output: map[string]interface{}{"mean": 150.0}},
	}}
	o := newTestOrchestrator(t, provider, dispatcher, Config{})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "mean of amount?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Mean amount is 150.", result.Answer)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "column_statistics", result.Invocations[0].Tool)
	assert.Equal(t, []string{"column_statistics"}, dispatcher.calls)

	// The second model call sees the tool result in the prompt, rendered
	// as JSON rather than Go value syntax.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "1", last.ToolCallID)
	assert.JSONEq(t, `{"mean":150}`, last.Content)
}

func TestRunTurn_ToolFailureFoldedIntoConversation(t *testing.T) {
	provider := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{{Name: "column_statistics", Arguments: map[string]interface{}{"column": "profit"}}}},
		{Answer: "That column does not exist. Available columns are region, amount and score."},
	}}
	dispatcher := &fakeDispatcher{errs: map[string]error{
		"column_statistics": errors.New(`column not found: "profit"`),
	}}
	o := newTestOrchestrator(t, provider, dispatcher, Config{})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "mean of profit?",
	})
	require.NoError(t, err)

	// The turn did not fail; the dispatch error became conversational input.
	assert.Contains(t, result.Answer, "does not exist")
	require.Len(t, result.Invocations, 1)
	assert.Contains(t, result.Invocations[0].Error, "profit")

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Contains(t, last.Content, "Tool call failed")
}

func TestRunTurn_IterationCapForcesSynthesis(t *testing.T) {
	// The model asks for a tool every time; the cap must force an answer.
	looping := make([]Decision, 10)
	for i := range looping {
		looping[i] = Decision{ToolCalls: []ToolCall{{Name: "column_statistics", Arguments: map[string]interface{}{"column": "amount"}}}}
	}
	provider := &scriptedProvider{decisions: append(looping, Decision{Answer: "Based on the gathered results: mean is 150."})}
	dispatcher := &fakeDispatcher{}
	o := newTestOrchestrator(t, provider, dispatcher, Config{MaxToolTurns: 3})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "keep digging",
	})
	require.NoError(t, err)

	assert.Len(t, dispatcher.calls, 3)
	assert.Equal(t, 4, provider.calls) // 3 tool rounds + forced synthesis
	assert.NotEmpty(t, result.Answer)

	// The synthesis call offers no tools.
	final := provider.requests[len(provider.requests)-1]
	assert.Empty(t, final.Tools)
}

func TestRunTurn_RetriesThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{errors.New("status 503"), nil},
		decisions: []Decision{{}, {Answer: "recovered"}},
	}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{MaxRetries: 3})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Answer)
	assert.Equal(t, 2, provider.calls)
}

func TestRunTurn_RetriesExhausted(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{errors.New("status 503"), errors.New("status 503")},
	}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{MaxRetries: 2})

	_, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRunTurn_NonRetryableFailsImmediately(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{errors.New("status 401 unauthorized")},
	}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{MaxRetries: 3})

	_, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 1, provider.calls)
}

func TestRunTurn_TimeoutMapsToUpstreamTimeout(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{context.DeadlineExceeded},
	}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{TurnTimeout: 50 * time.Millisecond})

	_, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestRunTurn_RetrievedContextInSystemPrompt(t *testing.T) {
	retriever := &stubRetriever{results: []index.Result{
		{Chunk: index.Chunk{ID: "col_amount", Content: "Column: amount. Mean: 150.00"}, Score: 0.9},
	}}
	provider := &scriptedProvider{decisions: []Decision{{Answer: "ok"}}}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{})

	_, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		Index:       retriever,
		UserMessage: "tell me about amount",
	})
	require.NoError(t, err)

	require.Len(t, retriever.queries, 1)
	assert.Equal(t, "tell me about amount", retriever.queries[0])
	assert.Contains(t, provider.requests[0].System, "Mean: 150.00")
}

func TestRunTurn_RetrievalFailureDegrades(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("index gone")}
	provider := &scriptedProvider{decisions: []Decision{{Answer: "still fine"}}}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		Index:       retriever,
		UserMessage: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "still fine", result.Answer)
}

func TestRunTurn_HistoryWindowed(t *testing.T) {
	history := make([]Message, 20)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history[i] = Message{Role: role, Content: "turn"}
	}
	provider := &scriptedProvider{decisions: []Decision{{Answer: "ok"}}}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{HistoryWindow: 4})

	_, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		History:     history,
		UserMessage: "latest",
	})
	require.NoError(t, err)

	// 4 history entries plus the new user message.
	assert.Len(t, provider.requests[0].Messages, 5)
}

func TestRunTurn_EmptyAnswerGetsFallback(t *testing.T) {
	provider := &scriptedProvider{decisions: []Decision{{Answer: ""}}}
	o := newTestOrchestrator(t, provider, &fakeDispatcher{}, Config{})

	result, err := o.RunTurn(context.Background(), TurnRequest{
		Table:       agentTestTable(t),
		UserMessage: "hm",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Answer)
}

func TestSuggestions(t *testing.T) {
	table := agentTestTable(t)

	s := Suggestions(table, "")
	assert.NotEmpty(t, s)
	assert.LessOrEqual(t, len(s), maxSuggestions)
	assert.Contains(t, s, "What's the correlation between amount and score?")

	// Columns already discussed are skipped in favor of fresh ones.
	s = Suggestions(table, "The mean of amount is 150.")
	assert.Contains(t, s, "What are the statistics for score?")

	s = Suggestions(nil, "")
	assert.NotEmpty(t, s)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("429 too many requests")))
	assert.True(t, isRetryable(errors.New("rate limit exceeded")))
	assert.True(t, isRetryable(errors.New("status 502")))
	assert.True(t, isRetryable(errors.New("connection refused")))
	assert.False(t, isRetryable(errors.New("status 401 unauthorized")))
	assert.False(t, isRetryable(nil))
}

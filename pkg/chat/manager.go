package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/tabletalk/tabletalk/pkg/agent"
	"github.com/tabletalk/tabletalk/pkg/analysis"
	"github.com/tabletalk/tabletalk/pkg/dataset"
	"github.com/tabletalk/tabletalk/pkg/index"
)

// TurnRunner executes one conversation turn. *agent.Orchestrator satisfies
// it; tests substitute fakes.
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
}

// Manager maps session ids to sessions and serializes turn execution per
// session. An arbitrary number of sessions run concurrently; each session
// runs at most one turn at a time.
type Manager struct {
	store        Store
	orchestrator TurnRunner
	embedder     index.Embedder
	logger       zerolog.Logger
	cfg          Config
}

// Config holds session policy knobs.
type Config struct {
	MaxChunks    int           // index chunk cap per session
	SampleRows   int           // sample rows indexed per session
	IdleTTL      time.Duration // idle duration before eviction eligibility
	WatchDataset bool          // rebuild the index when the file changes
}

// CreateResult is the outcome of session initialization.
type CreateResult struct {
	SessionID   string   `json:"session_id"`
	Greeting    Turn     `json:"greeting"`
	Suggestions []string `json:"suggestions"`
}

// SubmitResult is the outcome of one successful message turn.
type SubmitResult struct {
	Assistant   Turn     `json:"assistant"`
	Suggestions []string `json:"suggestions"`
}

// NewManager creates a session manager. embedder may be nil; sessions then
// run keyword-only retrieval.
func NewManager(store Store, orchestrator TurnRunner, embedder index.Embedder, logger zerolog.Logger, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 40
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 25
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		store:        store,
		orchestrator: orchestrator,
		embedder:     embedder,
		logger:       logger,
		cfg:          cfg,
	}, nil
}

// Create loads the dataset, builds the session's private index, and stores
// a new session seeded with a greeting turn.
func (m *Manager) Create(ctx context.Context, datasetPath string, types map[string]dataset.ColumnType) (*CreateResult, error) {
	table, err := dataset.Load(datasetPath, types)
	if err != nil {
		return nil, err
	}

	idx, err := index.New(m.embedder, m.logger)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(ctx, index.BuildChunks(table, m.cfg.MaxChunks, m.cfg.SampleRows)); err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	greeting := Turn{
		Role:      RoleAssistant,
		Content:   greetingText(table),
		Timestamp: now,
	}
	session := &Session{
		ID:           id,
		DatasetPath:  datasetPath,
		CreatedAt:    now,
		LastActiveAt: now,
		table:        table,
		index:        idx,
		history:      []Turn{greeting},
	}

	if m.cfg.WatchDataset {
		watcher, err := index.NewWatcher(datasetPath, m.logger, func() { m.rebuild(session, types) })
		if err != nil {
			m.logger.Warn().Err(err).Str("session", id).Msg("Dataset watcher unavailable")
		} else {
			session.watcher = watcher
		}
	}

	m.store.Put(session)
	m.logger.Info().Str("session", id).Str("dataset", filepath.Base(datasetPath)).
		Int("chunks", idx.Size()).Msg("Session created")

	return &CreateResult{
		SessionID:   id,
		Greeting:    greeting,
		Suggestions: agent.Suggestions(table, ""),
	}, nil
}

// Submit runs one turn for the session. At most one turn may execute per
// session; a second concurrent submit fails with ErrSessionBusy. On
// success the user and assistant turns are appended atomically.
func (m *Manager) Submit(ctx context.Context, id, text string) (*SubmitResult, error) {
	session, ok := m.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := session.tryAcquire(); err != nil {
		return nil, err
	}
	defer session.release()

	table, idx, history := session.snapshot()
	received := time.Now()

	req := agent.TurnRequest{
		Table:       table,
		History:     toMessages(history),
		UserMessage: text,
	}
	// A typed nil in the Retriever field would defeat the orchestrator's
	// nil check, so only a live index is handed over.
	if idx != nil {
		req.Index = idx
	}

	result, err := m.orchestrator.RunTurn(ctx, req)
	if err != nil {
		m.logger.Error().Err(err).Str("session", id).Msg("Turn failed")
		return nil, err
	}

	assistant := Turn{
		Role:      RoleAssistant,
		Content:   result.Answer,
		Timestamp: time.Now(),
		ToolCalls: result.Invocations,
	}
	session.appendTurns(
		Turn{Role: RoleUser, Content: text, Timestamp: received},
		assistant,
	)

	return &SubmitResult{Assistant: assistant, Suggestions: result.Suggestions}, nil
}

// History returns the ordered turn sequence.
func (m *Manager) History(id string) ([]Turn, error) {
	session, ok := m.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.historyCopy(), nil
}

// Delete removes the session and releases its index.
func (m *Manager) Delete(id string) error {
	session, ok := m.store.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	m.store.Delete(id)
	session.close()
	m.logger.Info().Str("session", id).Msg("Session deleted")
	return nil
}

// Sweep evicts sessions idle beyond the configured TTL. Sessions with a
// turn in flight are skipped; they become eligible again once the turn
// completes and the idle clock catches up.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)
	evicted := 0
	for _, session := range m.store.List() {
		if session.busy() {
			continue
		}
		session.mu.Lock()
		idle := session.LastActiveAt.Before(cutoff) && !session.inFlight
		session.mu.Unlock()
		if !idle {
			continue
		}
		m.store.Delete(session.ID)
		session.close()
		evicted++
		m.logger.Info().Str("session", session.ID).Msg("Session evicted for idleness")
	}
	return evicted
}

// rebuild reloads the dataset and replaces the session's chunk set after
// the backing file changed.
func (m *Manager) rebuild(session *Session, types map[string]dataset.ColumnType) {
	table, err := dataset.Load(session.DatasetPath, types)
	if err != nil {
		m.logger.Warn().Err(err).Str("session", session.ID).Msg("Dataset reload failed, keeping old index")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, idx, _ := session.snapshot()
	if idx == nil {
		return
	}
	if err := idx.Build(ctx, index.BuildChunks(table, m.cfg.MaxChunks, m.cfg.SampleRows)); err != nil {
		m.logger.Warn().Err(err).Str("session", session.ID).Msg("Index rebuild failed")
		return
	}
	session.swapDataset(table)
	m.logger.Info().Str("session", session.ID).Msg("Index rebuilt after dataset change")
}

func toMessages(history []Turn) []agent.Message {
	messages := make([]agent.Message, 0, len(history))
	for _, t := range history {
		messages = append(messages, agent.Message{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}
	return messages
}

func greetingText(table *dataset.Table) string {
	ov := analysis.TableOverview(table)
	return fmt.Sprintf(
		"I've analyzed your data: **%s** with %d rows and %d columns. I'm ready to help you explore it. What would you like to know?",
		filepath.Base(table.Path), ov.Rows, ov.Columns,
	)
}

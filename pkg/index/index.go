package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Result is one retrieved chunk with its relevance score.
type Result struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Index is a session-private semantic index. Each session owns exactly one
// Index; it is never shared between sessions. Vectors live in an in-memory
// sqlite database with a vec0 virtual table; chunk text stays in process so
// keyword fallback works even when no embedding exists.
type Index struct {
	db       *sql.DB
	embedder Embedder
	logger   zerolog.Logger

	mu       sync.RWMutex
	chunks   []Chunk
	embedded map[string]bool
	degraded bool
}

// New creates an empty index. embedder may be nil, in which case retrieval
// is keyword-only from the start.
func New(embedder Embedder, logger zerolog.Logger) (*Index, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// An in-memory sqlite database is per-connection; pin the pool to one.
	db.SetMaxOpenConns(1)

	idx := &Index{
		db:       db,
		embedder: embedder,
		logger:   logger,
		embedded: make(map[string]bool),
	}

	if embedder != nil {
		schema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vec USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, embedder.Dimension())
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return idx, nil
}

// Build replaces the index contents with the given chunks. Embedding
// failure degrades the index to keyword search instead of failing the
// session: the chunks are all retained either way.
func (idx *Index) Build(ctx context.Context, chunks []Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.chunks = append([]Chunk(nil), chunks...)
	idx.embedded = make(map[string]bool, len(chunks))
	idx.degraded = false

	if idx.embedder == nil {
		return nil
	}

	if _, err := idx.db.ExecContext(ctx, "DELETE FROM chunk_vec"); err != nil {
		return fmt.Errorf("failed to clear vector table: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := idx.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		idx.degraded = true
		idx.logger.Warn().Err(err).Int("chunks", len(chunks)).
			Msg("Embedding failed, index degraded to keyword search")
		return nil
	}

	for i, c := range chunks {
		vecJSON, err := json.Marshal(embeddings[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := idx.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO chunk_vec (chunk_id, embedding) VALUES (?, ?)",
			c.ID, string(vecJSON),
		); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
		idx.embedded[c.ID] = true
	}

	idx.logger.Debug().Int("chunks", len(chunks)).Msg("Index built")
	return nil
}

// Size returns the number of indexed chunks.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Degraded reports whether the index fell back to keyword-only search.
func (idx *Index) Degraded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.degraded
}

// Search returns the top-k most relevant chunks for the query. An empty
// index yields an empty result, never an error. Ties are broken by chunk
// insertion order, so schema summaries outrank sample rows at equal score.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.chunks) == 0 || k <= 0 {
		return []Result{}, nil
	}

	scores := make(map[string]float64, len(idx.chunks))

	vectorOK := false
	if idx.embedder != nil && !idx.degraded {
		if err := idx.vectorScores(ctx, query, k, scores); err != nil {
			// Query-time embedding failure degrades this lookup only.
			idx.logger.Warn().Err(err).Msg("Vector search failed, falling back to keyword match")
		} else {
			vectorOK = true
		}
	}

	for _, c := range idx.chunks {
		if vectorOK && idx.embedded[c.ID] {
			continue
		}
		if s := keywordScore(query, c.Content); s > 0 {
			scores[c.ID] = s
		}
	}

	results := make([]Result, len(idx.chunks))
	for i, c := range idx.chunks {
		results[i] = Result{Chunk: c, Score: scores[c.ID]}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Ord < results[j].Chunk.Ord
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// vectorScores fills scores with cosine similarities for the k nearest
// embedded chunks.
func (idx *Index) vectorScores(ctx context.Context, query string, k int, scores map[string]float64) error {
	queryVec, err := idx.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}
	vecJSON, err := json.Marshal(queryVec)
	if err != nil {
		return fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM chunk_vec
		ORDER BY distance ASC
		LIMIT ?
	`, string(vecJSON), k)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return err
		}
		scores[chunkID] = 1.0 - distance
	}
	return rows.Err()
}

// Close releases the underlying sqlite handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// keywordScore is the non-semantic fallback: the fraction of query terms
// contained in the content, case-insensitive.
func keywordScore(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

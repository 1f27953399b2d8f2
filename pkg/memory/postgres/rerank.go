package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"slices"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// scoredNode pairs a candidate with its raw vector similarity and the
// computed recall score.
type scoredNode struct {
	node       memory.Node
	similarity float64
	recall     float64
}

// rerank computes the recall score for every candidate and sorts
// descending, breaking ties by node timestamp descending. The ranking is
// a pure function of the candidates and the configured weights.
//
//	recall = Wv·similarity + Wi·(importance/10) + Wr·exp(-Δdays·decay)
func (i *Index) rerank(candidates []scoredNode) []scoredNode {
	now := i.now()
	for c := range candidates {
		n := &candidates[c]
		decay := n.node.DecayRate
		if decay <= 0 {
			decay = i.weights.DefaultDecay
		}
		ageDays := now.Sub(n.node.LastAccessed).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays * decay)

		n.recall = i.weights.WVector*n.similarity +
			i.weights.WImportance*(float64(n.node.Importance)/10) +
			i.weights.WRecency*recency
	}

	slices.SortStableFunc(candidates, func(a, b scoredNode) int {
		switch {
		case a.recall > b.recall:
			return -1
		case a.recall < b.recall:
			return 1
		case a.node.Timestamp.After(b.node.Timestamp):
			return -1
		case b.node.Timestamp.After(a.node.Timestamp):
			return 1
		default:
			return 0
		}
	})
	return candidates
}

// bumpRecalls performs the best-effort recall-count bump for the top
// results. The debounce lives in the WHERE clause: nodes accessed within
// the window are skipped server-side. Failures are logged and swallowed.
func (i *Index) bumpRecalls(ctx context.Context, ranked []scoredNode) {
	n := len(ranked)
	if n > recallTopN {
		n = recallTopN
	}
	if n == 0 {
		return
	}

	ids := make([]string, n)
	for k := 0; k < n; k++ {
		ids[k] = ranked[k].node.ID
	}

	const q = `
		UPDATE memory_nodes
		SET    recall_count = recall_count + 1,
		       last_accessed = now()
		WHERE  id = ANY($1)
		  AND  last_accessed < now() - $2::interval`

	if _, err := i.pool.Exec(ctx, q, ids, recallDebounce.String()); err != nil {
		slog.Warn("cold index: recall bump failed", "error", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Row scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

// scanNode scans one memory_nodes row. similarity is non-nil only for
// semantic-search rows that carry the extra similarity column.
func scanNode(row pgx.CollectableRow, n *memory.Node, similarity *float64) error {
	var (
		vec           *pgvector.Vector
		typ           string
		synthType     string
		emotionalRaw  []byte
		relationalRaw []byte
	)

	dest := []any{
		&n.ID, &n.EntityID, &n.UserID, &typ, &n.Content, &vec,
		&n.RelatedMemoryIDs, &n.ParentMemoryID, &n.Tags,
		&n.Timestamp, &n.LastAccessed, &n.RecallCount,
		&n.Importance, &n.Confidence, &n.DecayRate,
		&emotionalRaw, &relationalRaw, &n.SynthesizedFrom, &synthType,
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}

	n.Type = memory.MemoryType(typ)
	n.SynthesisType = memory.SynthesisType(synthType)
	if vec != nil {
		n.ContentVector = vec.Slice()
	}
	if len(emotionalRaw) > 0 {
		n.EmotionalState = &memory.EmotionalState{}
		if err := json.Unmarshal(emotionalRaw, n.EmotionalState); err != nil {
			return err
		}
	}
	if len(relationalRaw) > 0 {
		n.RelationalContext = &memory.RelationalContext{}
		if err := json.Unmarshal(relationalRaw, n.RelationalContext); err != nil {
			return err
		}
	}
	return nil
}

// collectNodes scans plain (similarity-less) rows into nodes.
func collectNodes(rows pgx.Rows) ([]memory.Node, error) {
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Node, error) {
		var n memory.Node
		if err := scanNode(row, &n, nil); err != nil {
			return memory.Node{}, err
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []memory.Node{}
	}
	return nodes, nil
}

// marshalOptional JSON-encodes v, returning nil (SQL NULL) for nil input.
func marshalOptional(v any) ([]byte, error) {
	switch t := v.(type) {
	case *memory.EmotionalState:
		if t == nil {
			return nil, nil
		}
	case *memory.RelationalContext:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// emptyIfNil normalises a nil slice to an empty one so the TEXT[] column
// never receives NULL.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// typeStrings converts the type enum slice to the TEXT[] parameter form.
func typeStrings(types []memory.MemoryType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

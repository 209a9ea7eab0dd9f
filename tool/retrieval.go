package tool

import (
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// Names of the retrieval tools.
const (
	LoadMemoryName     = "load_memory"
	QueryKnowledgeName = "query_knowledge"
)

type queryArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to search for"`
}

type memoryHit struct {
	Content string    `json:"content"`
	Score   float64   `json:"score"`
	Created time.Time `json:"created"`
}

// NewLoadMemoryTool exposes long-term memory of the calling user. Records
// are always scoped to the session owner (app/user), never to an argument.
func NewLoadMemoryTool(mem core.LongTermMemory, k int) (*FunctionTool, error) {
	if k <= 0 {
		k = 3
	}

	return NewTypedTool(LoadMemoryName,
		"Load relevant facts remembered from previous conversations with this user.",
		func(tc *core.ToolContext, in queryArgs) (map[string]any, error) {
			recs, err := mem.Retrieve(tc.Context(), tc.SessionKey().OwnerKey(), in.Query, k)
			if err != nil {
				return nil, err
			}

			hits := make([]memoryHit, 0, len(recs))
			for _, r := range recs {
				hits = append(hits, memoryHit{Content: r.Content, Score: r.Score, Created: r.Created})
			}

			return map[string]any{"memories": hits}, nil
		})
}

// NewQueryKnowledgeTool exposes a knowledge base as top-k passage retrieval.
func NewQueryKnowledgeTool(kb core.KnowledgeBase, k int) (*FunctionTool, error) {
	if k <= 0 {
		k = 3
	}

	return NewTypedTool(QueryKnowledgeName,
		"Search the product and policy knowledge base.",
		func(tc *core.ToolContext, in queryArgs) (map[string]any, error) {
			passages, err := kb.Query(tc.Context(), in.Query, k)
			if err != nil {
				return nil, err
			}

			return map[string]any{"passages": passages}, nil
		})
}

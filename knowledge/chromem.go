package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/embedding"
	"github.com/hupe1980/supportmesh/logging"
)

const (
	metaSource = "source"
	metaLines  = "lines"
)

// Document is a unit of knowledge before chunking.
type Document struct {
	ID       string
	Content  string
	Source   string
	Metadata map[string]string
}

// Options configures a ChromemBase.
type Options struct {
	Embedder   core.Embedder
	Logger     logging.Logger
	Collection string
	ChunkSize  int
	// Extensions limits LoadDirectory to these file extensions.
	Extensions []string
}

// ChromemBase is a KnowledgeBase over a chromem-go collection.
type ChromemBase struct {
	opts Options
	col  *chromem.Collection
}

var _ core.KnowledgeBase = (*ChromemBase)(nil)

// NewChromemBase creates a knowledge base in db (a nil db creates an
// in-memory one).
func NewChromemBase(db *chromem.DB, optFns ...func(o *Options)) (*ChromemBase, error) {
	opts := Options{
		Collection: "knowledge",
		ChunkSize:  DefaultChunkSize,
		Extensions: []string{".md", ".txt"},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(0)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if db == nil {
		db = chromem.NewDB()
	}

	embedder := opts.Embedder
	embed := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}

		return vecs[0], nil
	}

	col, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", opts.Collection, err)
	}

	return &ChromemBase{opts: opts, col: col}, nil
}

// Add chunks, embeds and stores docs. Chunk ids derive from the document id
// so re-adding a document overwrites its chunks.
func (b *ChromemBase) Add(ctx context.Context, docs ...Document) error {
	var chromemDocs []chromem.Document

	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = d.Source
		}

		if id == "" {
			return fmt.Errorf("%w: document needs an id or source", core.ErrInvalidRequest)
		}

		chunks := chunkLines(d.Content, b.opts.ChunkSize)
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		vecs, err := b.opts.Embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", id, err)
		}

		for i, c := range chunks {
			md := map[string]string{
				metaSource: d.Source,
				metaLines:  strconv.Itoa(c.StartLine) + "-" + strconv.Itoa(c.EndLine),
			}

			for k, v := range d.Metadata {
				md[k] = v
			}

			chromemDocs = append(chromemDocs, chromem.Document{
				ID:        fmt.Sprintf("%s#%d", id, c.Index),
				Content:   c.Content,
				Metadata:  md,
				Embedding: vecs[i],
			})
		}
	}

	if len(chromemDocs) == 0 {
		return nil
	}

	if err := b.col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	b.opts.Logger.Debug("knowledge.add", "collection", b.opts.Collection, "documents", len(docs), "chunks", len(chromemDocs))

	return nil
}

// LoadDirectory adds every matching file below dir.
func (b *ChromemBase) LoadDirectory(ctx context.Context, dir string) (int, error) {
	var docs []Document

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() || !b.accepts(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		rel, _ := filepath.Rel(dir, path)
		docs = append(docs, Document{ID: filepath.ToSlash(rel), Content: string(data), Source: filepath.ToSlash(rel)})

		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := b.Add(ctx, docs...); err != nil {
		return 0, err
	}

	b.opts.Logger.Info("knowledge.directory.loaded", "dir", dir, "documents", len(docs))

	return len(docs), nil
}

func (b *ChromemBase) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range b.opts.Extensions {
		if ext == e {
			return true
		}
	}

	return false
}

// Count returns the number of stored chunks.
func (b *ChromemBase) Count() int { return b.col.Count() }

// Query returns up to k passages ranked by similarity to text.
func (b *ChromemBase) Query(ctx context.Context, text string, k int) ([]core.Passage, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be >= 0", core.ErrInvalidRequest)
	}

	n := min(k, b.col.Count())
	if n == 0 {
		return []core.Passage{}, nil
	}

	vecs, err := b.opts.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := b.col.QueryEmbedding(ctx, vecs[0], n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]core.Passage, 0, len(results))
	for _, r := range results {
		md := make(map[string]string, len(r.Metadata))
		for key, v := range r.Metadata {
			if key != metaSource {
				md[key] = v
			}
		}

		out = append(out, core.Passage{
			ID:       r.ID,
			Content:  r.Content,
			Source:   r.Metadata[metaSource],
			Score:    float64(r.Similarity),
			Metadata: md,
		})
	}

	return out, nil
}

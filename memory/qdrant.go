package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hupe1980/supportmesh/core"
)

const (
	payloadContent = "content"
	payloadRecord  = "record_id"
)

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore is a LongTermMemory backed by a Qdrant collection. The owner
// is a keyword payload field matched by a must filter on every search.
type QdrantStore struct {
	opts   Options
	client *qdrant.Client

	once    sync.Once
	initErr error
}

var _ core.LongTermMemory = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant. The collection is created lazily on
// first use with the embedder's dimensionality.
func NewQdrantStore(cfg QdrantConfig, optFns ...func(o *Options)) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	if cfg.Port == 0 {
		cfg.Port = 6334 // Qdrant gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantStore{opts: defaultOptions(optFns), client: client}, nil
}

// Close closes the Qdrant client.
func (q *QdrantStore) Close() error { return q.client.Close() }

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	q.once.Do(func() {
		exists, err := q.client.CollectionExists(ctx, q.opts.Collection)
		if err != nil {
			q.initErr = fmt.Errorf("failed to check collection existence: %w", err)
			return
		}

		if exists {
			return
		}

		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.opts.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.opts.Embedder.Dimensions()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			q.initErr = fmt.Errorf("failed to create collection: %w", err)
		}
	})

	return q.initErr
}

// Write upserts a point for content.
func (q *QdrantStore) Write(ctx context.Context, owner, content string, metadata map[string]string) (string, error) {
	if err := validate(owner, 0); err != nil {
		return "", err
	}

	if err := q.ensureCollection(ctx); err != nil {
		return "", err
	}

	vec, err := embedOne(ctx, q.opts.Embedder, content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := newRecordID(now)

	payload := map[string]*qdrant.Value{
		metaOwner:      qdrant.NewValueString(owner),
		payloadContent: qdrant.NewValueString(content),
		payloadRecord:  qdrant.NewValueString(id),
		metaCreated:    qdrant.NewValueString(now.Format(time.RFC3339Nano)),
	}

	for k, v := range metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = qdrant.NewValueString(v)
		}
	}

	// qdrant point ids must be uuids or integers
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.opts.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert point: %w", err)
	}

	q.opts.Logger.Debug("memory.write", "backend", "qdrant", "owner", owner, "id", id)

	return id, nil
}

// Retrieve searches owner's points.
func (q *QdrantStore) Retrieve(ctx context.Context, owner, query string, k int) ([]core.MemoryRecord, error) {
	if err := validate(owner, k); err != nil {
		return nil, err
	}

	if k == 0 {
		return []core.MemoryRecord{}, nil
	}

	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}

	qv, err := embedOne(ctx, q.opts.Embedder, query)
	if err != nil {
		return nil, err
	}

	res, err := q.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.opts.Collection,
		Vector:         qv,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         ownerFilter(owner),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	out := make([]core.MemoryRecord, 0, len(res.Result))

	for _, p := range res.Result {
		md := map[string]string{}
		for key, v := range p.Payload {
			md[key] = v.GetStringValue()
		}

		if md[metaOwner] != owner {
			continue
		}

		created, _ := time.Parse(time.RFC3339Nano, md[metaCreated])
		rec := core.MemoryRecord{
			ID:      md[payloadRecord],
			Owner:   owner,
			Content: md[payloadContent],
			Score:   float64(p.Score),
			Created: created,
		}

		for _, reserved := range []string{metaOwner, metaCreated, payloadContent, payloadRecord} {
			delete(md, reserved)
		}

		rec.Metadata = md
		out = append(out, rec)
	}

	return out, nil
}

func ownerFilter(owner string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaOwner,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: owner},
					},
				},
			},
		}},
	}
}

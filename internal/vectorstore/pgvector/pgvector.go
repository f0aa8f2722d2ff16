// Package pgvector stores content units in Postgres using the pgvector
// extension. All partitions share one table keyed by unit id; the partition
// column scopes queries.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db   DB
	dims vectorstore.Dimensions
}

var _ vectorstore.VectorStore = (*Store)(nil)

func NewStore(db DB, dims vectorstore.Dimensions) *Store {
	return &Store{db: db, dims: dims}
}

// seq and created_at are left alone on conflict so a replaced unit keeps its
// ingestion position.
const upsertSQL = `INSERT INTO content_units (id, partition, document_id, text, embedding, source, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		partition = EXCLUDED.partition,
		document_id = EXCLUDED.document_id,
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding,
		source = EXCLUDED.source,
		metadata = EXCLUDED.metadata`

func (s *Store) Upsert(ctx context.Context, partition models.Modality, unit models.ContentUnit) error {
	if err := s.dims.CheckUnit(partition, unit); err != nil {
		return err
	}
	source, err := json.Marshal(unit.SourceRef)
	if err != nil {
		return fmt.Errorf("marshal source ref: %w", err)
	}
	metadata, err := marshalMetadata(unit.Metadata)
	if err != nil {
		return err
	}
	createdAt := unit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, upsertSQL,
		unit.ID, string(partition), unit.DocumentID, unit.Text,
		pgvector.NewVector(unit.Embedding), source, metadata, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert unit %s: %w", unit.ID, err)
	}
	return nil
}

// The scan is exact. The clamped score orders results, so units that clamp to
// the same score keep ingestion order as they do in the memory store. A zero
// vector on either side yields NULL distance and scores 0.
const querySQL = `SELECT id, document_id, text, embedding::text, source, metadata, created_at, seq,
	        GREATEST(0, LEAST(1, COALESCE(1 - (embedding <=> $1), 0))) AS score
	 FROM content_units
	 WHERE partition = $2 AND ($3 = '' OR document_id = $3) AND metadata @> $4
	 ORDER BY score DESC, seq
	 LIMIT $5`

func (s *Store) Query(ctx context.Context, partition models.Modality, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if err := s.dims.CheckQuery(partition, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	metadata, err := marshalMetadata(filter.Metadata)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, querySQL, pgvector.NewVector(vector), string(partition), filter.DocumentID, metadata, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search %s: %w", partition, err)
	}
	defer rows.Close()

	var out []vectorstore.Match
	for rows.Next() {
		var (
			m      vectorstore.Match
			emb    pgvector.Vector
			source []byte
			meta   []byte
			seq    int64
			score  float64
		)
		m.Unit.Modality = partition
		if err := rows.Scan(&m.Unit.ID, &m.Unit.DocumentID, &m.Unit.Text, &emb, &source, &meta, &m.Unit.CreatedAt, &seq, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		m.Unit.Embedding = emb.Slice()
		if err := json.Unmarshal(source, &m.Unit.SourceRef); err != nil {
			return nil, fmt.Errorf("decode source ref of %s: %w", m.Unit.ID, err)
		}
		if err := decodeMetadata(meta, &m.Unit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.Unit.ID, err)
		}
		m.Seq = uint64(seq)
		m.Similarity = vectorstore.ClampScore(score)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	if filter.Empty() {
		return 0, vectorstore.ErrEmptyFilter
	}
	metadata, err := marshalMetadata(filter.Metadata)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx,
		"DELETE FROM content_units WHERE ($1 = '' OR document_id = $1) AND metadata @> $2",
		filter.DocumentID, metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("delete units: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Count(ctx context.Context, partition models.Modality) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM content_units WHERE partition = $1", string(partition)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// marshalMetadata always yields a JSON object so "@>" matches everything when
// no metadata filter is given.
func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte, dst *map[string]string) error {
	if len(b) == 0 || string(b) == "{}" {
		return nil
	}
	return json.Unmarshal(b, dst)
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
)

// PostgresStore persists stories into Postgres.
//
// Expected schema:
//
//	CREATE TABLE stories (
//	    id             text PRIMARY KEY,
//	    canonical_url  text NOT NULL,
//	    created_at     timestamptz NOT NULL,
//	    rev            bigint NOT NULL,
//	    title          text NOT NULL,
//	    tags           text[] NOT NULL DEFAULT '{}',
//	    search_tokens  text[] NOT NULL DEFAULT '{}',
//	    schema_version int NOT NULL,
//	    scrapes        jsonb NOT NULL
//	);
//	CREATE INDEX stories_url_idx ON stories (canonical_url, created_at DESC);
//	CREATE INDEX stories_created_idx ON stories (created_at DESC);
//	CREATE INDEX stories_tokens_idx ON stories USING gin (search_tokens);
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.StoryStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const storyColumns = "canonical_url, created_at, rev, title, tags, search_tokens, schema_version, scrapes"

func (r *PostgresStore) FindByURL(ctx context.Context, canonicalURL string, since time.Time) (*domain.Story, error) {
	query, args, err := r.sb.
		Select(strings.Split(storyColumns, ", ")...).
		From("stories").
		Where(sq.Eq{"canonical_url": canonicalURL}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find query: %w", err)
	}

	story, err := scanStory(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, mapPqError("find story", err)
	}
	return story, nil
}

// Save inserts unpersisted stories and issues a revision-guarded update
// otherwise. A vanished row or a stale revision reads as a conflict.
func (r *PostgresStore) Save(ctx context.Context, story *domain.Story) error {
	scrapes, err := json.Marshal(story.Scrapes)
	if err != nil {
		return fmt.Errorf("marshal scrapes: %w", err)
	}
	id := storyID(story.CanonicalURL, story.CreatedAt)

	if story.Rev == 0 {
		query, args, err := r.sb.
			Insert("stories").
			Columns("id", "canonical_url", "created_at", "rev", "title", "tags", "search_tokens", "schema_version", "scrapes").
			Values(id, story.CanonicalURL, story.CreatedAt, 1, story.Title,
				pq.Array(story.Tags), pq.Array(story.SearchTokens), story.SchemaVersion, scrapes).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return mapPqError("insert story", err)
		}
		story.Rev = 1
		return nil
	}

	next := story.Rev + 1
	query, args, err := r.sb.
		Update("stories").
		Set("rev", next).
		Set("title", story.Title).
		Set("tags", pq.Array(story.Tags)).
		Set("search_tokens", pq.Array(story.SearchTokens)).
		Set("schema_version", story.SchemaVersion).
		Set("scrapes", scrapes).
		Where(sq.Eq{"id": id, "rev": story.Rev}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapPqError("update story", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ports.ErrConflict
	}
	story.Rev = next
	return nil
}

func (r *PostgresStore) Recent(ctx context.Context, limit int) ([]*domain.Story, error) {
	builder := r.sb.
		Select(strings.Split(storyColumns, ", ")...).
		From("stories").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	return r.query(ctx, builder)
}

func (r *PostgresStore) Search(ctx context.Context, tokens []string, limit int) ([]*domain.Story, error) {
	builder := r.sb.
		Select(strings.Split(storyColumns, ", ")...).
		From("stories").
		Where("search_tokens @> ?", pq.Array(tokens)).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	return r.query(ctx, builder)
}

func (r *PostgresStore) query(ctx context.Context, builder sq.SelectBuilder) ([]*domain.Story, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPqError("query stories", err)
	}
	defer rows.Close()

	var out []*domain.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, story)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPqError("rows iteration", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*domain.Story, error) {
	var (
		story   domain.Story
		scrapes []byte
	)
	err := row.Scan(
		&story.CanonicalURL,
		&story.CreatedAt,
		&story.Rev,
		&story.Title,
		pq.Array(&story.Tags),
		pq.Array(&story.SearchTokens),
		&story.SchemaVersion,
		&scrapes,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scrapes, &story.Scrapes); err != nil {
		return nil, fmt.Errorf("unmarshal scrapes: %w", err)
	}
	return &story, nil
}

func mapPqError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w", op, ports.ErrConflict)
		case pqErr.Code.Class() == "42":
			return fmt.Errorf("%s: %w", op, ports.ErrIndexMissing)
		case pqErr.Code.Class() == "53":
			return fmt.Errorf("%s: %w", op, ports.ErrQuotaExceeded)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

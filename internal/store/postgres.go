// Package store implements graph.Store on PostgreSQL. Entities live in one
// JSONB-backed table keyed by kind, edges in another.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

// Open connects to databaseURL with the pool settings the API runs with.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

type PostgresStore struct {
	db *sql.DB
}

var _ graph.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const entityColumns = `id, kind, fields, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, kind graph.Kind, fields graph.Fields) (graph.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return graph.Entity{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO graph_entities (id, kind, fields)
		VALUES ($1, $2, $3::jsonb)
		RETURNING `+entityColumns,
		graph.NewID(kind), string(kind), payload,
	)
	entity, err := scanEntity(row)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("create %s: %w", kind, err)
	}
	return entity, nil
}

func (s *PostgresStore) Get(ctx context.Context, kind graph.Kind, id string) (graph.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM graph_entities WHERE kind=$1 AND id=$2`, string(kind), id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entity{}, graph.NotFound(kind, id)
	}
	if err != nil {
		return graph.Entity{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return entity, nil
}

func (s *PostgresStore) Patch(ctx context.Context, kind graph.Kind, id string, fields graph.Fields) (graph.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return graph.Entity{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE graph_entities
		SET fields = fields || $3::jsonb, updated_at = clock_timestamp()
		WHERE kind=$1 AND id=$2
		RETURNING `+entityColumns,
		string(kind), id, payload,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entity{}, graph.NotFound(kind, id)
	}
	if err != nil {
		return graph.Entity{}, fmt.Errorf("patch %s %s: %w", kind, id, err)
	}
	return entity, nil
}

func (s *PostgresStore) Delete(ctx context.Context, kind graph.Kind, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM graph_entities WHERE kind=$1 AND id=$2`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if affected == 0 {
		return graph.NotFound(kind, id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, kind graph.Kind, opts graph.ListOptions) ([]graph.Entity, error) {
	direction := "ASC"
	if opts.Order == graph.OrderDesc {
		direction = "DESC"
	}

	query := `SELECT ` + entityColumns + ` FROM graph_entities WHERE kind=$1`
	args := []any{string(kind)}
	switch opts.OrderBy {
	case "":
		query += ` ORDER BY seq ASC`
	case "createdAt":
		query += ` ORDER BY created_at ` + direction + `, seq ASC`
	case "updatedAt":
		query += ` ORDER BY updated_at ` + direction + `, seq ASC`
	default:
		query += ` ORDER BY fields -> $2::text ` + direction + `, seq ASC`
		args = append(args, opts.OrderBy)
	}
	return s.queryEntities(ctx, query, args...)
}

// Query matches scalar fields by JSON containment. The "id" key matches the
// entity id rather than a field.
func (s *PostgresStore) Query(ctx context.Context, kind graph.Kind, where graph.Fields) ([]graph.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM graph_entities WHERE kind=$1`
	args := []any{string(kind)}

	match := graph.Fields{}
	for key, value := range where {
		if key == "id" {
			args = append(args, fmt.Sprint(value))
			query += fmt.Sprintf(` AND id=$%d`, len(args))
			continue
		}
		match[key] = value
	}
	if len(match) > 0 {
		payload, err := encodeFields(match)
		if err != nil {
			return nil, err
		}
		args = append(args, payload)
		query += fmt.Sprintf(` AND fields @> $%d::jsonb`, len(args))
	}
	query += ` ORDER BY seq ASC`
	return s.queryEntities(ctx, query, args...)
}

func (s *PostgresStore) GetRelationships(ctx context.Context, from graph.Ref, relation graph.Relation, direction graph.Direction, targetKind graph.Kind) ([]graph.Related, error) {
	var near, far string
	switch direction {
	case graph.Outgoing:
		near, far = "from_id", "to_id"
	case graph.Incoming:
		near, far = "to_id", "from_id"
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.kind, e.fields, e.created_at, e.updated_at, r.properties
		FROM graph_relationships r
		JOIN graph_entities n ON n.id = r.%s
		JOIN graph_entities e ON e.id = r.%s
		WHERE r.%s = $1 AND n.kind = $2 AND r.relation = $3
	`, near, far, near)
	args := []any{from.ID, string(from.Kind), string(relation)}
	if targetKind != "" {
		query += ` AND e.kind = $4`
		args = append(args, string(targetKind))
	}
	query += ` ORDER BY r.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s relationships of %s: %w", relation, from.ID, err)
	}
	defer rows.Close()

	out := make([]graph.Related, 0)
	for rows.Next() {
		var (
			entity        graph.Entity
			kind          string
			fields, props []byte
		)
		if err := rows.Scan(&entity.ID, &kind, &fields, &entity.CreatedAt, &entity.UpdatedAt, &props); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		entity.Kind = graph.Kind(kind)
		if entity.Fields, err = decodeFields(fields); err != nil {
			return nil, err
		}
		properties, err := decodeFields(props)
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Related{Target: entity, Properties: properties})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref, properties graph.Fields) error {
	for _, ref := range []graph.Ref{from, to} {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM graph_entities WHERE kind=$1 AND id=$2)`, string(ref.Kind), ref.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check %s %s: %w", ref.Kind, ref.ID, err)
		}
		if !exists {
			return graph.NotFound(ref.Kind, ref.ID)
		}
	}

	payload, err := encodeFields(properties)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_relationships (from_id, relation, to_id, properties)
		VALUES ($1, $2, $3, $4::jsonb)
	`, from.ID, string(relation), to.ID, payload)
	if err != nil {
		// An endpoint deleted between the check and the insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return graph.NotFound(to.Kind, to.ID)
		}
		return fmt.Errorf("create %s relationship: %w", relation, err)
	}
	return nil
}

func (s *PostgresStore) DeleteRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM graph_relationships
		WHERE from_id=$1 AND relation=$2 AND to_id=$3
	`, from.ID, string(relation), to.ID)
	if err != nil {
		return fmt.Errorf("delete %s relationship: %w", relation, err)
	}
	return nil
}

func (s *PostgresStore) queryEntities(ctx context.Context, query string, args ...any) ([]graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := make([]graph.Entity, 0)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (graph.Entity, error) {
	var (
		entity graph.Entity
		kind   string
		raw    []byte
	)
	if err := row.Scan(&entity.ID, &kind, &raw, &entity.CreatedAt, &entity.UpdatedAt); err != nil {
		return graph.Entity{}, err
	}
	entity.Kind = graph.Kind(kind)
	fields, err := decodeFields(raw)
	if err != nil {
		return graph.Entity{}, err
	}
	entity.Fields = fields
	return entity, nil
}

func encodeFields(fields graph.Fields) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(payload), nil
}

func decodeFields(raw []byte) (graph.Fields, error) {
	fields := graph.Fields{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fields, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// Package surreal implements graph.Store on SurrealDB. Each entity kind is a
// table; every edge is a record of the graph_edge relation table carrying the
// relation name and its properties.
package surreal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

const edgeTable = "graph_edge"

// Field names are spliced into SurrealQL idioms, so they are restricted.
var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const entityProjection = `meta::id(id) AS id, meta::tb(id) AS kind, fields,
	<string> created_at AS created_at, <string> updated_at AS updated_at, created_at AS created_ts`

type Store struct {
	db  *surrealdb.DB
	log zerolog.Logger
}

var _ graph.Store = (*Store)(nil)

// Open connects, signs in when credentials are set and selects the
// namespace and database.
func Open(ctx context.Context, cfg config.SurrealConfig, log zerolog.Logger) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect surrealdb: %w", err)
	}
	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("surrealdb sign in: %w", err)
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("surrealdb use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	log.Info().Str("url", cfg.URL).Str("namespace", cfg.Namespace).Str("database", cfg.Database).Msg("surrealdb connected")
	return &Store{db: db, log: log.With().Str("component", "surreal").Logger()}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, "RETURN true", nil); err != nil {
		return fmt.Errorf("ping surrealdb: %w", err)
	}
	return nil
}

type entityRow struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

type edgeRow struct {
	entityRow
	Properties map[string]any `json:"properties"`
}

func (s *Store) Create(ctx context.Context, kind graph.Kind, fields graph.Fields) (graph.Entity, error) {
	id := graph.NewID(kind)
	if fields == nil {
		fields = graph.Fields{}
	}
	_, err := surrealdb.Query[any](ctx, s.db,
		`CREATE type::thing($tb, $id) CONTENT { fields: $fields, created_at: time::now(), updated_at: time::now() }`,
		map[string]any{"tb": string(kind), "id": id, "fields": map[string]any(fields)},
	)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("create %s: %w", kind, err)
	}
	return s.Get(ctx, kind, id)
}

func (s *Store) Get(ctx context.Context, kind graph.Kind, id string) (graph.Entity, error) {
	rows, err := s.selectEntities(ctx,
		`SELECT `+entityProjection+` FROM type::thing($tb, $id)`,
		map[string]any{"tb": string(kind), "id": id},
	)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	if len(rows) == 0 {
		return graph.Entity{}, graph.NotFound(kind, id)
	}
	return rows[0], nil
}

func (s *Store) Patch(ctx context.Context, kind graph.Kind, id string, fields graph.Fields) (graph.Entity, error) {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return graph.Entity{}, err
	}

	keys := sortedKeys(fields)
	vars := map[string]any{"tb": string(kind), "id": id}
	sets := make([]string, 0, len(keys)+1)
	for i, key := range keys {
		if !fieldName.MatchString(key) {
			return graph.Entity{}, fmt.Errorf("patch %s %s: invalid field name %q", kind, id, key)
		}
		param := fmt.Sprintf("v%d", i)
		sets = append(sets, fmt.Sprintf("fields.%s = $%s", key, param))
		vars[param] = fields[key]
	}
	sets = append(sets, "updated_at = time::now()")

	_, err := surrealdb.Query[any](ctx, s.db,
		`UPDATE type::thing($tb, $id) SET `+strings.Join(sets, ", "),
		vars,
	)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("patch %s %s: %w", kind, id, err)
	}
	return s.Get(ctx, kind, id)
}

func (s *Store) Delete(ctx context.Context, kind graph.Kind, id string) error {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return err
	}
	vars := map[string]any{"tb": string(kind), "id": id}
	_, err := surrealdb.Query[any](ctx, s.db,
		`DELETE `+edgeTable+` WHERE in = type::thing($tb, $id) OR out = type::thing($tb, $id);
		DELETE type::thing($tb, $id);`,
		vars,
	)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind graph.Kind, opts graph.ListOptions) ([]graph.Entity, error) {
	direction := "ASC"
	if opts.Order == graph.OrderDesc {
		direction = "DESC"
	}

	query := `SELECT ` + entityProjection
	switch opts.OrderBy {
	case "":
		query += ` FROM type::table($tb) ORDER BY created_ts ASC`
	case "createdAt":
		query += ` FROM type::table($tb) ORDER BY created_ts ` + direction
	case "updatedAt":
		query += `, updated_at AS updated_ts FROM type::table($tb) ORDER BY updated_ts ` + direction + `, created_ts ASC`
	default:
		if !fieldName.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("list %s: invalid order field %q", kind, opts.OrderBy)
		}
		query += `, fields.` + opts.OrderBy + ` AS sort_key FROM type::table($tb) ORDER BY sort_key ` + direction + `, created_ts ASC`
	}

	rows, err := s.selectEntities(ctx, query, map[string]any{"tb": string(kind)})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return rows, nil
}

func (s *Store) Query(ctx context.Context, kind graph.Kind, where graph.Fields) ([]graph.Entity, error) {
	vars := map[string]any{"tb": string(kind)}
	conds := make([]string, 0, len(where))
	for i, key := range sortedKeys(where) {
		param := fmt.Sprintf("w%d", i)
		if key == "id" {
			conds = append(conds, fmt.Sprintf("id = type::thing($tb, $%s)", param))
			vars[param] = fmt.Sprint(where[key])
			continue
		}
		if !fieldName.MatchString(key) {
			return nil, fmt.Errorf("query %s: invalid field name %q", kind, key)
		}
		conds = append(conds, fmt.Sprintf("fields.%s = $%s", key, param))
		vars[param] = where[key]
	}

	query := `SELECT ` + entityProjection + ` FROM type::table($tb)`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_ts ASC`

	rows, err := s.selectEntities(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	return rows, nil
}

func (s *Store) GetRelationships(ctx context.Context, from graph.Ref, relation graph.Relation, direction graph.Direction, targetKind graph.Kind) ([]graph.Related, error) {
	var near, far string
	switch direction {
	case graph.Outgoing:
		near, far = "in", "out"
	case graph.Incoming:
		near, far = "out", "in"
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}

	query := fmt.Sprintf(`SELECT meta::id(%[2]s) AS id, meta::tb(%[2]s) AS kind, %[2]s.fields AS fields,
		<string> %[2]s.created_at AS created_at, <string> %[2]s.updated_at AS updated_at,
		properties, created_at AS edge_ts
		FROM %[3]s
		WHERE %[1]s = type::thing($tb, $id) AND relation = $relation AND %[2]s.created_at != NONE
		ORDER BY edge_ts ASC`, near, far, edgeTable)
	vars := map[string]any{"tb": string(from.Kind), "id": from.ID, "relation": string(relation)}

	result, err := surrealdb.Query[[]edgeRow](ctx, s.db, query, vars)
	if err != nil {
		return nil, fmt.Errorf("get %s relationships of %s: %w", relation, from.ID, err)
	}

	out := make([]graph.Related, 0)
	if result == nil || len(*result) == 0 {
		return out, nil
	}
	for _, row := range (*result)[0].Result {
		if targetKind != "" && graph.Kind(row.Kind) != targetKind {
			continue
		}
		entity, err := row.entityRow.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Related{Target: entity, Properties: normalizeFields(row.Properties)})
	}
	return out, nil
}

func (s *Store) CreateRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref, properties graph.Fields) error {
	for _, ref := range []graph.Ref{from, to} {
		if _, err := s.Get(ctx, ref.Kind, ref.ID); err != nil {
			return err
		}
	}
	if properties == nil {
		properties = graph.Fields{}
	}
	_, err := surrealdb.Query[any](ctx, s.db,
		`RELATE (type::thing($from_tb, $from_id))->`+edgeTable+`->(type::thing($to_tb, $to_id))
		CONTENT { relation: $relation, properties: $properties, created_at: time::now() }`,
		map[string]any{
			"from_tb":    string(from.Kind),
			"from_id":    from.ID,
			"to_tb":      string(to.Kind),
			"to_id":      to.ID,
			"relation":   string(relation),
			"properties": map[string]any(properties),
		},
	)
	if err != nil {
		return fmt.Errorf("create %s relationship: %w", relation, err)
	}
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref) error {
	_, err := surrealdb.Query[any](ctx, s.db,
		`DELETE `+edgeTable+` WHERE in = type::thing($from_tb, $from_id) AND out = type::thing($to_tb, $to_id) AND relation = $relation`,
		map[string]any{
			"from_tb":  string(from.Kind),
			"from_id":  from.ID,
			"to_tb":    string(to.Kind),
			"to_id":    to.ID,
			"relation": string(relation),
		},
	)
	if err != nil {
		return fmt.Errorf("delete %s relationship: %w", relation, err)
	}
	return nil
}

func (s *Store) selectEntities(ctx context.Context, query string, vars map[string]any) ([]graph.Entity, error) {
	result, err := surrealdb.Query[[]entityRow](ctx, s.db, query, vars)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Entity, 0)
	if result == nil || len(*result) == 0 {
		return out, nil
	}
	for _, row := range (*result)[0].Result {
		entity, err := row.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func (r entityRow) entity() (graph.Entity, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("decode created_at of %s: %w", r.ID, err)
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return graph.Entity{}, fmt.Errorf("decode updated_at of %s: %w", r.ID, err)
	}
	return graph.Entity{
		ID:        r.ID,
		Kind:      graph.Kind(r.Kind),
		Fields:    normalizeFields(r.Fields),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// parseTime accepts both plain RFC 3339 and the d'...' literal form.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "d'"), "'")
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func normalizeFields(in map[string]any) graph.Fields {
	out := make(graph.Fields, len(in))
	for k, v := range in {
		out[k] = normalize(v)
	}
	return out
}

// normalize turns codec-specific shapes into the plain JSON-like values the
// rest of the module expects.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return map[string]any(normalizeFields(v))
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case models.CustomDateTime:
		return v.Time
	case *models.CustomDateTime:
		if v == nil {
			return nil
		}
		return v.Time
	case models.CustomNil:
		return nil
	default:
		return v
	}
}

func sortedKeys(fields graph.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

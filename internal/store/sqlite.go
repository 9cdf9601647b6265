package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/lattice/internal/types"
)

// SQLiteStore is the SQLite-backed graph database for one context.
//
// Two handles share the same WAL-mode database file: all mutations go
// through the writer, which is capped at a single connection so writes
// for a context observe a total order; reads go through a pooled reader
// handle and may overlap with each other and with the writer.
type SQLiteStore struct {
	writer *sql.DB
	reader *sql.DB

	contextName string

	mu    sync.RWMutex
	names *nameFilter
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithContextName attaches a context name used in log lines.
func WithContextName(name string) Option {
	return func(s *SQLiteStore) {
		s.contextName = name
	}
}

// NewSQLiteStore opens (creating if necessary) the graph database at
// dbPath, applies pragmas and migrations, and primes the name filter.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	writer, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := enablePragmas(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	reader, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	if err := enablePragmas(reader); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("enable read pool pragmas: %w", err)
	}

	s := &SQLiteStore{writer: writer, reader: reader}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.rebuildNameFilter(context.Background()); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("prime name filter: %w", err)
	}

	return s, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes both database handles.
func (s *SQLiteStore) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// rebuildNameFilter scans entity names into a fresh bloom filter.
func (s *SQLiteStore) rebuildNameFilter(ctx context.Context) error {
	names, err := s.ListEntityNames(ctx)
	if err != nil {
		return err
	}

	filter := newNameFilter(len(names) * 2)
	for _, n := range names {
		filter.Add(strings.ToLower(n))
	}

	s.mu.Lock()
	s.names = filter
	s.mu.Unlock()
	return nil
}

// CreateEntities inserts new entities with their initial observations.
// Entities whose name already exists (case-insensitive) are skipped, not
// an error; the returned slice holds only the entities actually created.
func (s *SQLiteStore) CreateEntities(ctx context.Context, entities []types.Entity) ([]types.Entity, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	var created []types.Entity

	for _, e := range entities {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM entities WHERE lower(name) = lower(?)", e.Name,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check entity %q: %w", e.Name, err)
		}
		if exists > 0 {
			continue
		}

		id := ulid.Make().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, entity_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, e.Name, e.EntityType, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert entity %q: %w", e.Name, err)
		}

		for _, obs := range e.Observations {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO observations (id, entity_id, content, created_at)
				VALUES (?, ?, ?, ?)
			`, ulid.Make().String(), id, obs, now)
			if err != nil {
				return nil, fmt.Errorf("insert observation for %q: %w", e.Name, err)
			}
		}

		created = append(created, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	for _, e := range created {
		s.names.Add(strings.ToLower(e.Name))
	}
	s.mu.Unlock()

	slog.Debug("entities created",
		"component", "store",
		"context", s.contextName,
		"requested", len(entities),
		"created", len(created),
	)

	return created, nil
}

// CreateRelations inserts new relations, skipping exact duplicates.
// Endpoints are not required to exist; dangling relations are surfaced
// later by FindDanglingRelations.
func (s *SQLiteStore) CreateRelations(ctx context.Context, relations []types.Relation) ([]types.Relation, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	var created []types.Relation

	for _, r := range relations {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM relations
			WHERE lower(from_entity) = lower(?) AND lower(to_entity) = lower(?) AND relation_type = ?
		`, r.From, r.To, r.RelationType).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check relation: %w", err)
		}
		if exists > 0 {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO relations (id, from_entity, to_entity, relation_type, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, ulid.Make().String(), r.From, r.To, r.RelationType, now)
		if err != nil {
			return nil, fmt.Errorf("insert relation: %w", err)
		}

		created = append(created, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return created, nil
}

// AddObservations appends observations to existing entities. Returns
// ErrNotFound if any referenced entity does not exist; observations
// already present on an entity are skipped.
func (s *SQLiteStore) AddObservations(ctx context.Context, sets []types.ObservationSet) ([]types.ObservationSet, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	var added []types.ObservationSet

	for _, set := range sets {
		var entityID string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM entities WHERE lower(name) = lower(?)", set.EntityName,
		).Scan(&entityID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("entity %q: %w", set.EntityName, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("look up entity %q: %w", set.EntityName, err)
		}

		result := types.ObservationSet{EntityName: set.EntityName}
		for _, content := range set.Contents {
			var exists int
			err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM observations WHERE entity_id = ? AND content = ?",
				entityID, content,
			).Scan(&exists)
			if err != nil {
				return nil, fmt.Errorf("check observation: %w", err)
			}
			if exists > 0 {
				continue
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO observations (id, entity_id, content, created_at)
				VALUES (?, ?, ?, ?)
			`, ulid.Make().String(), entityID, content, now)
			if err != nil {
				return nil, fmt.Errorf("insert observation: %w", err)
			}
			result.Contents = append(result.Contents, content)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE entities SET updated_at = ? WHERE id = ?", now, entityID)
		if err != nil {
			return nil, fmt.Errorf("touch entity: %w", err)
		}

		added = append(added, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return added, nil
}

// DeleteEntities removes entities by name along with their observations
// (cascade) and any relations touching them. Unknown names are ignored.
func (s *SQLiteStore) DeleteEntities(ctx context.Context, names []string) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, name := range names {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM entities WHERE lower(name) = lower(?)", name)
		if err != nil {
			return 0, fmt.Errorf("delete entity %q: %w", name, err)
		}
		n, _ := res.RowsAffected()
		deleted += n

		_, err = tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE lower(from_entity) = lower(?) OR lower(to_entity) = lower(?)
		`, name, name)
		if err != nil {
			return 0, fmt.Errorf("delete relations for %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	// The bloom filter cannot unlearn a name; false positives are
	// confirmed against the database anyway.
	return deleted, nil
}

// DeleteRelations removes the given relations. Unknown relations are ignored.
func (s *SQLiteStore) DeleteRelations(ctx context.Context, relations []types.Relation) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, r := range relations {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE lower(from_entity) = lower(?) AND lower(to_entity) = lower(?) AND relation_type = ?
		`, r.From, r.To, r.RelationType)
		if err != nil {
			return 0, fmt.Errorf("delete relation: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return deleted, nil
}

// DeleteObservations removes specific observations from entities.
// Unknown entities and observations are ignored.
func (s *SQLiteStore) DeleteObservations(ctx context.Context, deletions []types.ObservationDeletion) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, d := range deletions {
		var entityID string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM entities WHERE lower(name) = lower(?)", d.EntityName,
		).Scan(&entityID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("look up entity %q: %w", d.EntityName, err)
		}

		for _, obs := range d.Observations {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM observations WHERE entity_id = ? AND content = ?",
				entityID, obs)
			if err != nil {
				return 0, fmt.Errorf("delete observation: %w", err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return deleted, nil
}

// SearchNodes runs a case-insensitive text search over entity names,
// types, and observation contents, returning matches ranked by a simple
// field-weighted relevance score (name 3.0, type 2.0, observation 1.0).
func (s *SQLiteStore) SearchNodes(ctx context.Context, query string) ([]types.SearchMatch, error) {
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.reader.QueryContext(ctx, `
		SELECT DISTINCT e.id, e.name, e.entity_type
		FROM entities e
		LEFT JOIN observations o ON o.entity_id = e.id
		WHERE lower(e.name) LIKE ?
		   OR lower(e.entity_type) LIKE ?
		   OR lower(o.content) LIKE ?
	`, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id     string
		entity types.Entity
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.entity.Name, &c.entity.EntityType); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	q := strings.ToLower(query)
	var matches []types.SearchMatch
	for _, c := range candidates {
		obs, err := s.entityObservations(ctx, c.id)
		if err != nil {
			return nil, err
		}
		c.entity.Observations = obs

		var score float64
		if strings.Contains(strings.ToLower(c.entity.Name), q) {
			score += 3.0
		}
		if strings.Contains(strings.ToLower(c.entity.EntityType), q) {
			score += 2.0
		}
		for _, o := range obs {
			if strings.Contains(strings.ToLower(o), q) {
				score += 1.0
			}
		}

		matches = append(matches, types.SearchMatch{Entity: c.entity, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

// OpenNodes returns the named entities plus the relations among them.
func (s *SQLiteStore) OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error) {
	graph := &types.KnowledgeGraph{}
	wanted := make(map[string]bool, len(names))

	for _, name := range names {
		var id string
		var e types.Entity
		err := s.reader.QueryRowContext(ctx,
			"SELECT id, name, entity_type FROM entities WHERE lower(name) = lower(?)", name,
		).Scan(&id, &e.Name, &e.EntityType)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open node %q: %w", name, err)
		}

		obs, err := s.entityObservations(ctx, id)
		if err != nil {
			return nil, err
		}
		e.Observations = obs

		graph.Entities = append(graph.Entities, e)
		wanted[strings.ToLower(e.Name)] = true
	}

	rows, err := s.reader.QueryContext(ctx,
		"SELECT from_entity, to_entity, relation_type FROM relations")
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r types.Relation
		if err := rows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		if wanted[strings.ToLower(r.From)] && wanted[strings.ToLower(r.To)] {
			graph.Relations = append(graph.Relations, r)
		}
	}

	return graph, rows.Err()
}

// ReadGraph returns the full graph for this context.
func (s *SQLiteStore) ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	graph := &types.KnowledgeGraph{}

	rows, err := s.reader.QueryContext(ctx,
		"SELECT id, name, entity_type FROM entities ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	type row struct {
		id string
		e  types.Entity
	}
	var entityRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.e.Name, &r.e.EntityType); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entityRows = append(entityRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	for _, r := range entityRows {
		obs, err := s.entityObservations(ctx, r.id)
		if err != nil {
			return nil, err
		}
		r.e.Observations = obs
		graph.Entities = append(graph.Entities, r.e)
	}

	relRows, err := s.reader.QueryContext(ctx,
		"SELECT from_entity, to_entity, relation_type FROM relations ORDER BY from_entity")
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var r types.Relation
		if err := relRows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		graph.Relations = append(graph.Relations, r)
	}

	return graph, relRows.Err()
}

// ExistsByName reports whether an entity with the given name exists.
// The bloom filter answers definitive negatives without touching the
// database; positives are confirmed with a query.
func (s *SQLiteStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	may := s.names.MayContain(strings.ToLower(name))
	s.mu.RUnlock()
	if !may {
		return false, nil
	}

	var count int
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE lower(name) = lower(?)", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("confirm entity existence: %w", err)
	}
	return count > 0, nil
}

// ListEntityNames returns every entity name in this context.
func (s *SQLiteStore) ListEntityNames(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, "SELECT name FROM entities ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list entity names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FindDanglingRelations returns relations whose source or target entity
// no longer exists. Used by corruption detection.
func (s *SQLiteStore) FindDanglingRelations(ctx context.Context) ([]types.Relation, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT r.from_entity, r.to_entity, r.relation_type
		FROM relations r
		WHERE NOT EXISTS (SELECT 1 FROM entities e WHERE lower(e.name) = lower(r.from_entity))
		   OR NOT EXISTS (SELECT 1 FROM entities e WHERE lower(e.name) = lower(r.to_entity))
	`)
	if err != nil {
		return nil, fmt.Errorf("find dangling relations: %w", err)
	}
	defer rows.Close()

	var dangling []types.Relation
	for rows.Next() {
		var r types.Relation
		if err := rows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		dangling = append(dangling, r)
	}
	return dangling, rows.Err()
}

// CountEntities returns the number of entities in this context.
func (s *SQLiteStore) CountEntities(ctx context.Context) (int64, error) {
	var count int64
	err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return count, nil
}

// Snapshot writes a consistent copy of the database to destPath using
// VACUUM INTO, which is safe against concurrent WAL writers. Any stale
// file at destPath is replaced.
func (s *SQLiteStore) Snapshot(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}

	if _, err := s.writer.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

// entityObservations loads observation contents for one entity in
// insertion order.
func (s *SQLiteStore) entityObservations(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		"SELECT content FROM observations WHERE entity_id = ? ORDER BY id", entityID)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	var obs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs = append(obs, content)
	}
	return obs, rows.Err()
}

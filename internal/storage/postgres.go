package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tourgraph/internal/models"
)

var _ Repository = (*PostgresStore)(nil)

// PostgresStore persists the tour graph in two tables, panoramas and
// hotspots. Mutations that span rows (node delete with its edge cascade and
// incoming-edge detach) run inside a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresStore opens a Postgres-backed graph store and applies the schema
// migration.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool, cfg: cfg}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS panoramas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			image_blob_id TEXT,
			image_url TEXT,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hotspots (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES panoramas(id),
			target_id TEXT REFERENCES panoramas(id),
			pitch DOUBLE PRECISION NOT NULL,
			yaw DOUBLE PRECISION NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS hotspots_source_idx ON hotspots (source_id)`,
		`CREATE INDEX IF NOT EXISTS hotspots_target_idx ON hotspots (target_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping verifies connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool, respecting the context deadline.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const nodeColumns = `id, name, image_blob_id, image_url, owner_id, created_at, updated_at`

func scanNode(row pgx.Row) (models.PanoramaNode, error) {
	var node models.PanoramaNode
	var blobID, imageURL *string
	if err := row.Scan(&node.ID, &node.Name, &blobID, &imageURL, &node.OwnerID, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return models.PanoramaNode{}, err
	}
	if blobID != nil || imageURL != nil {
		image := models.ImageRef{}
		if blobID != nil {
			image.BlobID = *blobID
		}
		if imageURL != nil {
			image.URL = *imageURL
		}
		node.Image = &image
	}
	return node, nil
}

func imageColumns(image *models.ImageRef) (blobID, url *string) {
	if image == nil {
		return nil, nil
	}
	b, u := image.BlobID, image.URL
	return &b, &u
}

// CreateNode inserts a panorama row.
func (s *PostgresStore) CreateNode(ctx context.Context, params CreateNodeParams) (models.PanoramaNode, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.PanoramaNode{}, fmt.Errorf("panorama name is required")
	}
	id, err := generateID()
	if err != nil {
		return models.PanoramaNode{}, err
	}
	now := s.cfg.Now()
	blobID, imageURL := imageColumns(params.Image)
	row := s.pool.QueryRow(ctx, `
INSERT INTO panoramas (id, name, image_blob_id, image_url, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING `+nodeColumns, id, name, blobID, imageURL, params.OwnerID, now)
	node, err := scanNode(row)
	if err != nil {
		return models.PanoramaNode{}, fmt.Errorf("insert panorama: %w", err)
	}
	return node, nil
}

// GetNode fetches a panorama row by id.
func (s *PostgresStore) GetNode(ctx context.Context, id string) (models.PanoramaNode, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM panoramas WHERE id = $1`, id)
	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PanoramaNode{}, false, nil
		}
		return models.PanoramaNode{}, false, fmt.Errorf("select panorama: %w", err)
	}
	return node, true, nil
}

// NodeExists reports whether a panorama row exists.
func (s *PostgresStore) NodeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM panoramas WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check panorama: %w", err)
	}
	return exists, nil
}

// UpdateNode applies the non-nil fields of update to the panorama row.
func (s *PostgresStore) UpdateNode(ctx context.Context, id string, update NodeUpdate) (models.PanoramaNode, error) {
	var name *string
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return models.PanoramaNode{}, fmt.Errorf("panorama name is required")
		}
		name = &trimmed
	}
	blobID, imageURL := imageColumns(update.Image)
	row := s.pool.QueryRow(ctx, `
UPDATE panoramas
SET name = COALESCE($2, name),
    image_blob_id = COALESCE($3, image_blob_id),
    image_url = COALESCE($4, image_url),
    updated_at = $5
WHERE id = $1
RETURNING `+nodeColumns, id, name, blobID, imageURL, s.cfg.Now())
	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PanoramaNode{}, ErrNodeNotFound
		}
		return models.PanoramaNode{}, fmt.Errorf("update panorama: %w", err)
	}
	return node, nil
}

// DeleteNode removes the panorama row together with its outgoing edges and
// detaches incoming edges, all in one transaction.
func (s *PostgresStore) DeleteNode(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin panorama delete: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM hotspots WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("delete outgoing hotspots: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE hotspots SET target_id = NULL, updated_at = $2 WHERE target_id = $1`, id, s.cfg.Now()); err != nil {
		return fmt.Errorf("detach incoming hotspots: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM panoramas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete panorama: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit panorama delete: %w", err)
	}
	committed = true
	return nil
}

// ListNodes returns panoramas whose name contains search, most recently
// updated first. The pattern is parameterized; LIKE metacharacters in the
// search term are escaped. ILIKE compares lower-cased text, so multi-rune
// case folds (such as matching ß against ss) behave differently here than in
// the JSON store's full Unicode folding.
func (s *PostgresStore) ListNodes(ctx context.Context, search string) ([]models.PanoramaNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM panoramas`
	args := []any{}
	if trimmed := strings.TrimSpace(search); trimmed != "" {
		query += ` WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'`
		args = append(args, escapeLikePattern(trimmed))
	}
	query += ` ORDER BY updated_at DESC, created_at DESC, id`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list panoramas: %w", err)
	}
	defer rows.Close()

	var nodes []models.PanoramaNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan panorama: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panoramas: %w", err)
	}
	return nodes, nil
}

func escapeLikePattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

const edgeColumns = `id, source_id, target_id, pitch, yaw, label, description, category, created_at, updated_at`

func scanEdge(row pgx.Row) (models.HotspotEdge, error) {
	var edge models.HotspotEdge
	if err := row.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.Pitch, &edge.Yaw, &edge.Label, &edge.Description, &edge.Category, &edge.CreatedAt, &edge.UpdatedAt); err != nil {
		return models.HotspotEdge{}, err
	}
	return edge, nil
}

// CreateEdge inserts a hotspot row.
func (s *PostgresStore) CreateEdge(ctx context.Context, params CreateEdgeParams) (models.HotspotEdge, error) {
	id, err := generateID()
	if err != nil {
		return models.HotspotEdge{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO hotspots (id, source_id, target_id, pitch, yaw, label, description, category, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING `+edgeColumns,
		id, params.SourceID, params.TargetID, params.Pitch, params.Yaw,
		strings.TrimSpace(params.Label), params.Description, params.Category, s.cfg.Now())
	edge, err := scanEdge(row)
	if err != nil {
		return models.HotspotEdge{}, fmt.Errorf("insert hotspot: %w", err)
	}
	return edge, nil
}

// GetEdge fetches a hotspot row by id.
func (s *PostgresStore) GetEdge(ctx context.Context, id string) (models.HotspotEdge, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+edgeColumns+` FROM hotspots WHERE id = $1`, id)
	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.HotspotEdge{}, false, nil
		}
		return models.HotspotEdge{}, false, fmt.Errorf("select hotspot: %w", err)
	}
	return edge, true, nil
}

// UpdateEdge applies the non-nil fields of update to the hotspot row.
func (s *PostgresStore) UpdateEdge(ctx context.Context, id string, update EdgeUpdate) (models.HotspotEdge, error) {
	var label *string
	if update.Label != nil {
		trimmed := strings.TrimSpace(*update.Label)
		label = &trimmed
	}
	row := s.pool.QueryRow(ctx, `
UPDATE hotspots
SET target_id = CASE WHEN $2 THEN NULL ELSE COALESCE($3, target_id) END,
    pitch = COALESCE($4, pitch),
    yaw = COALESCE($5, yaw),
    label = COALESCE($6, label),
    description = COALESCE($7, description),
    category = COALESCE($8, category),
    updated_at = $9
WHERE id = $1
RETURNING `+edgeColumns,
		id, update.ClearTarget, update.TargetID, update.Pitch, update.Yaw,
		label, update.Description, update.Category, s.cfg.Now())
	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.HotspotEdge{}, ErrEdgeNotFound
		}
		return models.HotspotEdge{}, fmt.Errorf("update hotspot: %w", err)
	}
	return edge, nil
}

// DeleteEdge removes a hotspot row by id.
func (s *PostgresStore) DeleteEdge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM hotspots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete hotspot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEdgeNotFound
	}
	return nil
}

// ListEdgesBySource returns the edges owned by sourceID in creation order.
func (s *PostgresStore) ListEdgesBySource(ctx context.Context, sourceID string) ([]models.HotspotEdge, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+edgeColumns+` FROM hotspots WHERE source_id = $1 ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list hotspots: %w", err)
	}
	defer rows.Close()

	var edges []models.HotspotEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hotspot: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hotspots: %w", err)
	}
	return edges, nil
}

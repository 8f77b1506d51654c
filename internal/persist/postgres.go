package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l1jgo/landblock/internal/config"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

// PostgresStore keeps world objects in PostgreSQL through a pgx pool.
type PostgresStore struct {
	Pool     *pgxpool.Pool
	compress bool
	log      *zap.Logger
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, compress bool, log *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &PostgresStore{Pool: pool, compress: compress, log: log}, nil
}

func (s *PostgresStore) LoadRegion(ctx context.Context, id landblock.ID) ([]landblock.Record, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT guid, kind, template, pos_x, pos_y, pos_z, heading, state, state_codec
		 FROM world_objects WHERE landblock = $1 ORDER BY guid`, int32(id),
	)
	if err != nil {
		return nil, fmt.Errorf("load region %s: %w", id, err)
	}
	defer rows.Close()

	var result []landblock.Record
	for rows.Next() {
		var (
			rec   landblock.Record
			guid  int64
			blob  []byte
			codec int16
		)
		if err := rows.Scan(&guid, &rec.Kind, &rec.Template,
			&rec.Position[0], &rec.Position[1], &rec.Position[2], &rec.Heading,
			&blob, &codec,
		); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		rec.GUID = ecs.EntityID(guid)
		rec.Landblock = id
		if rec.State, err = decodeState(blob, codec); err != nil {
			return nil, fmt.Errorf("object %d: %w", guid, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SaveBatch(ctx context.Context, records []landblock.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		blob, codec := encodeState(r.State, s.compress)
		batch.Queue(
			`INSERT INTO world_objects (guid, landblock, kind, template, pos_x, pos_y, pos_z, heading, state, state_codec, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			 ON CONFLICT (guid) DO UPDATE SET
			   landblock = EXCLUDED.landblock, kind = EXCLUDED.kind, template = EXCLUDED.template,
			   pos_x = EXCLUDED.pos_x, pos_y = EXCLUDED.pos_y, pos_z = EXCLUDED.pos_z,
			   heading = EXCLUDED.heading, state = EXCLUDED.state, state_codec = EXCLUDED.state_codec,
			   updated_at = NOW()`,
			int64(r.GUID), int32(r.Landblock), r.Kind, r.Template,
			r.Position[0], r.Position[1], r.Position[2], r.Heading, blob, codec,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save objects: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, guids []ecs.EntityID) error {
	if len(guids) == 0 {
		return nil
	}
	if _, err := s.Pool.Exec(ctx,
		`DELETE FROM world_objects WHERE guid = ANY($1)`, guidArgs(guids),
	); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	return nil
}

func (s *PostgresStore) MaxGUIDIndex(ctx context.Context) (uint32, error) {
	var idx int64
	if err := s.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(guid & 4294967295), 0) FROM world_objects`,
	).Scan(&idx); err != nil {
		return 0, fmt.Errorf("max guid: %w", err)
	}
	return uint32(idx), nil
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)

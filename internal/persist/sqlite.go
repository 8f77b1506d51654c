package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps world objects in a single SQLite file. Used for local
// development and tests.
type SQLiteStore struct {
	db       *sql.DB
	compress bool
	log      *zap.Logger
}

func OpenSQLite(ctx context.Context, path string, compress bool, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteStore{db: db, compress: compress, log: log}, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) LoadRegion(ctx context.Context, id landblock.ID) ([]landblock.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, kind, template, pos_x, pos_y, pos_z, heading, state, state_codec
		 FROM world_objects WHERE landblock = ? ORDER BY guid`, int64(id),
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

func (s *SQLiteStore) SaveBatch(ctx context.Context, records []landblock.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO world_objects (guid, landblock, kind, template, pos_x, pos_y, pos_z, heading, state, state_codec, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT (guid) DO UPDATE SET
		   landblock = excluded.landblock, kind = excluded.kind, template = excluded.template,
		   pos_x = excluded.pos_x, pos_y = excluded.pos_y, pos_z = excluded.pos_z,
		   heading = excluded.heading, state = excluded.state, state_codec = excluded.state_codec,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob, codec := encodeState(r.State, s.compress)
		if _, err := stmt.ExecContext(ctx,
			int64(r.GUID), int64(r.Landblock), r.Kind, r.Template,
			r.Position[0], r.Position[1], r.Position[2], r.Heading, blob, codec,
		); err != nil {
			return fmt.Errorf("save object %d: %w", r.GUID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, guids []ecs.EntityID) error {
	if len(guids) == 0 {
		return nil
	}
	args := make([]any, len(guids))
	for i, g := range guidArgs(guids) {
		args[i] = g
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guids)), ",")
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM world_objects WHERE guid IN (`+placeholders+`)`, args...,
	); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MaxGUIDIndex(ctx context.Context) (uint32, error) {
	var idx int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(guid & 4294967295), 0) FROM world_objects`,
	).Scan(&idx); err != nil {
		return 0, fmt.Errorf("max guid: %w", err)
	}
	return uint32(idx), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

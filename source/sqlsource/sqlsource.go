// Package sqlsource implements source.FeatureSource over a database/sql
// table holding one row per record: the id, the four envelope ordinates and
// the codec-encoded attributes.
//
//	CREATE TABLE features (
//	    id    TEXT PRIMARY KEY,
//	    minx  REAL NOT NULL, miny REAL NOT NULL,
//	    maxx  REAL NOT NULL, maxy REAL NOT NULL,
//	    attrs BLOB
//	)
//
// Any driver works; the tests use the pure-Go modernc.org/sqlite driver.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/hupe1980/tilecache/codec"
	"github.com/hupe1980/tilecache/model"
	"github.com/hupe1980/tilecache/source"
)

// ErrInvalidTable is returned for table names that are not plain identifiers.
var ErrInvalidTable = errors.New("sqlsource: invalid table name")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source reads records from a SQL table. It implements source.BoundedSource
// and source.Notifier; changes made through Upsert and Delete are published.
type Source struct {
	source.Broadcaster

	db    *sql.DB
	table string
	codec codec.Codec
}

var (
	_ source.BoundedSource = (*Source)(nil)
	_ source.Notifier      = (*Source)(nil)
)

// Option configures a Source.
type Option func(*Source)

// WithCodec sets the attribute codec. Defaults to codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(s *Source) {
		s.codec = c
	}
}

// New creates a source over table.
func New(db *sql.DB, table string, optFns ...Option) (*Source, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s := &Source{db: db, table: table, codec: codec.Default}
	for _, fn := range optFns {
		fn(s)
	}
	return s, nil
}

// CreateTable creates the backing table if it does not exist.
func (s *Source) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id    TEXT PRIMARY KEY,
		minx  REAL NOT NULL,
		miny  REAL NOT NULL,
		maxx  REAL NOT NULL,
		maxy  REAL NOT NULL,
		attrs BLOB
	)`, s.table))
	return err
}

// where returns the bbox predicate for env. Unbounded sides are omitted.
func where(env model.Envelope) (string, []any) {
	var conds []string
	var args []any
	if !math.IsInf(env.MaxX, 1) {
		conds = append(conds, "minx <= ?")
		args = append(args, env.MaxX)
	}
	if !math.IsInf(env.MinX, -1) {
		conds = append(conds, "maxx >= ?")
		args = append(args, env.MinX)
	}
	if !math.IsInf(env.MaxY, 1) {
		conds = append(conds, "miny <= ?")
		args = append(args, env.MaxY)
	}
	if !math.IsInf(env.MinY, -1) {
		conds = append(conds, "maxy >= ?")
		args = append(args, env.MinY)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Features implements source.FeatureSource. Rows are ordered by id.
func (s *Source) Features(ctx context.Context, env model.Envelope) (model.FeatureCollection, error) {
	cond, args := where(env)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, minx, miny, maxx, maxy, attrs FROM "+s.table+cond+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out model.FeatureCollection
	for rows.Next() {
		var (
			r     model.Record
			id    string
			attrs []byte
		)
		if err := rows.Scan(&id, &r.Envelope.MinX, &r.Envelope.MinY, &r.Envelope.MaxX, &r.Envelope.MaxY, &attrs); err != nil {
			return nil, fmt.Errorf("sqlsource: scan: %w", err)
		}
		r.ID = model.RecordID(id)
		if len(attrs) > 0 {
			if err := s.codec.Unmarshal(attrs, &r.Attributes); err != nil {
				return nil, fmt.Errorf("sqlsource: decode %s: %w", id, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlsource: rows: %w", err)
	}
	return out, nil
}

// Count implements source.FeatureSource.
func (s *Source) Count(ctx context.Context, env model.Envelope) (int, error) {
	cond, args := where(env)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlsource: count: %w", err)
	}
	return n, nil
}

// Bounds implements source.BoundedSource.
func (s *Source) Bounds(ctx context.Context) (model.Envelope, bool, error) {
	var minx, miny, maxx, maxy sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(minx), MIN(miny), MAX(maxx), MAX(maxy) FROM "+s.table).Scan(&minx, &miny, &maxx, &maxy)
	if err != nil {
		return model.Envelope{}, false, fmt.Errorf("sqlsource: bounds: %w", err)
	}
	if !minx.Valid {
		return model.Envelope{}, false, nil
	}
	return model.Envelope{MinX: minx.Float64, MinY: miny.Float64, MaxX: maxx.Float64, MaxY: maxy.Float64}, true, nil
}

// Upsert writes records in one transaction and publishes the change.
func (s *Source) Upsert(ctx context.Context, records ...model.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	change := source.Change{}
	for i, r := range records {
		env := r.Envelope
		var old model.Envelope
		err := tx.QueryRowContext(ctx, "SELECT minx, miny, maxx, maxy FROM "+s.table+" WHERE id = ?", string(r.ID)).
			Scan(&old.MinX, &old.MinY, &old.MaxX, &old.MaxY)
		switch {
		case err == nil:
			env = env.Union(old)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		var attrs []byte
		if len(r.Attributes) > 0 {
			if attrs, err = s.codec.Marshal(r.Attributes); err != nil {
				return fmt.Errorf("sqlsource: encode %s: %w", r.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+s.table+" (id, minx, miny, maxx, maxy, attrs) VALUES (?, ?, ?, ?, ?, ?)",
			string(r.ID), r.Envelope.MinX, r.Envelope.MinY, r.Envelope.MaxX, r.Envelope.MaxY, attrs); err != nil {
			return err
		}

		if i == 0 {
			change.Envelope = env
		} else {
			change.Envelope = change.Envelope.Union(env)
		}
		change.IDs = append(change.IDs, r.ID)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.Publish(change)
	return nil
}

// Delete removes records and publishes the change.
func (s *Source) Delete(ctx context.Context, ids ...model.RecordID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	change := source.Change{}
	found := false
	for _, id := range ids {
		var old model.Envelope
		err := tx.QueryRowContext(ctx, "SELECT minx, miny, maxx, maxy FROM "+s.table+" WHERE id = ?", string(id)).
			Scan(&old.MinX, &old.MinY, &old.MaxX, &old.MaxY)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.table+" WHERE id = ?", string(id)); err != nil {
			return err
		}
		if !found {
			change.Envelope, found = old, true
		} else {
			change.Envelope = change.Envelope.Union(old)
		}
		change.IDs = append(change.IDs, id)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if found {
		s.Publish(change)
	}
	return nil
}

package lidar

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/paulmach/orb"

	_ "modernc.org/sqlite"
)

// catalogSchemaSQL creates the tiles table holding one row per region.
//
//go:embed catalog_schema.sql
var catalogSchemaSQL string

// OpenCatalogSQLite loads the tiles table of the SQLite database at path.
func OpenCatalogSQLite(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	return LoadCatalogSQLite(context.Background(), db)
}

// LoadCatalogSQLite reads every row of the tiles table.
func LoadCatalogSQLite(ctx context.Context, db *sql.DB) (*Catalog, error) {
	rows, err := db.QueryContext(ctx, `SELECT filename, year, xmin, xmax, ymin, ymax FROM tiles ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query tiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var regions []Region
	for rows.Next() {
		var (
			r                      Region
			year                   sql.NullInt64
			xmin, xmax, ymin, ymax float64
		)
		if err := rows.Scan(&r.Filename, &year, &xmin, &xmax, &ymin, &ymax); err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		if year.Valid {
			r.Year = int(year.Int64)
		}
		r.Bound = orb.Bound{Min: orb.Point{xmin, ymin}, Max: orb.Point{xmax, ymax}}
		regions = append(regions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewCatalog(regions), nil
}

// SaveCatalogSQLite creates the tiles table if needed and upserts every
// region of c in a single transaction.
func SaveCatalogSQLite(ctx context.Context, db *sql.DB, c *Catalog) error {
	if _, err := db.ExecContext(ctx, catalogSchemaSQL); err != nil {
		return fmt.Errorf("create tiles schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles (filename, year, xmin, xmax, ymin, ymax)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			year = excluded.year,
			xmin = excluded.xmin, xmax = excluded.xmax,
			ymin = excluded.ymin, ymax = excluded.ymax`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range c.regions {
		if _, err := stmt.ExecContext(ctx, r.Filename, r.Year,
			r.Bound.Min[0], r.Bound.Max[0], r.Bound.Min[1], r.Bound.Max[1]); err != nil {
			return fmt.Errorf("insert tile %s: %w", r.Filename, err)
		}
	}

	return tx.Commit()
}

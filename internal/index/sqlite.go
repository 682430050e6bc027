package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

// sqliteTimeLayout is fixed width so stored values sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func sqlitePlaceholder(n int) string {
	return "?" + strconv.Itoa(n)
}

// SQLiteRepository implements Repository on a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, rec Record) error {
	query := `INSERT INTO archives (filename, region, vault, archive_id, location, description, uploaded_at, tree_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET region = excluded.region,
			vault = excluded.vault,
			archive_id = excluded.archive_id,
			location = excluded.location,
			description = excluded.description,
			uploaded_at = excluded.uploaded_at,
			tree_hash = excluded.tree_hash`

	_, err := r.db.ExecContext(ctx, query,
		rec.Filename, rec.Region, rec.Vault, rec.ArchiveID, rec.Location,
		rec.Description, sqliteTime(rec.UploadedAt), rec.TreeHash)
	if err != nil {
		return fmt.Errorf("failed to upsert archive record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) QueryByPrefix(ctx context.Context, q Query) ([]Record, error) {
	where, args := whereClause(q, sqlitePlaceholder)
	query := `SELECT filename, region, vault, archive_id, location, description, uploaded_at, tree_hash
		FROM archives` + where + ` ORDER BY filename`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select archive records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		var uploaded string
		if err := rows.Scan(&rec.Filename, &rec.Region, &rec.Vault, &rec.ArchiveID,
			&rec.Location, &rec.Description, &uploaded, &rec.TreeHash); err != nil {
			return nil, err
		}
		if rec.UploadedAt, err = parseSQLiteTime(uploaded); err != nil {
			return nil, fmt.Errorf("bad uploaded_at for %q: %w", rec.Filename, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByArchiveID(ctx context.Context, archiveID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM archives WHERE archive_id = ?`, archiveID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archive records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) PutInventory(ctx context.Context, s InventorySnapshot) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO inventories (job_id, region, vault, inventory_date, body)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET inventory_date = excluded.inventory_date, body = excluded.body`,
			s.JobID, s.Region, s.Vault, sqliteTime(s.InventoryDate), s.Body)
		if err != nil {
			return fmt.Errorf("failed to store inventory: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM inventories WHERE region = ?1 AND vault = ?2 AND job_id NOT IN (
			SELECT job_id FROM inventories WHERE region = ?1 AND vault = ?2
			ORDER BY inventory_date DESC LIMIT ?3)`,
			s.Region, s.Vault, keepInventories)
		if err != nil {
			return fmt.Errorf("failed to prune inventories: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) LatestInventory(ctx context.Context, region, vault string) (*InventorySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT job_id, region, vault, inventory_date, body FROM inventories
		WHERE region = ? AND vault = ? ORDER BY inventory_date DESC LIMIT 1`, region, vault)

	s := &InventorySnapshot{}
	var date string
	if err := row.Scan(&s.JobID, &s.Region, &s.Vault, &date, &s.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}

	var err error
	if s.InventoryDate, err = parseSQLiteTime(date); err != nil {
		return nil, fmt.Errorf("bad inventory_date: %w", err)
	}
	return s, nil
}

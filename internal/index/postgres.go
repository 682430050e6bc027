package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

func postgresPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// PostgresRepository implements Repository on a shared PostgreSQL database
// so several machines can resolve downloads against one catalog.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Put(ctx context.Context, rec Record) error {
	query := `INSERT INTO archives (filename, region, vault, archive_id, location, description, uploaded_at, tree_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (filename) DO UPDATE SET region = EXCLUDED.region,
			vault = EXCLUDED.vault,
			archive_id = EXCLUDED.archive_id,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			uploaded_at = EXCLUDED.uploaded_at,
			tree_hash = EXCLUDED.tree_hash;`

	_, err := r.db.ExecContext(ctx, query,
		rec.Filename, rec.Region, rec.Vault, rec.ArchiveID, rec.Location,
		rec.Description, rec.UploadedAt.UTC(), rec.TreeHash)
	if err != nil {
		return fmt.Errorf("failed to upsert archive record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) QueryByPrefix(ctx context.Context, q Query) ([]Record, error) {
	where, args := whereClause(q, postgresPlaceholder)
	query := `SELECT filename, region, vault, archive_id, location, description, uploaded_at, tree_hash
		FROM archives` + where + ` ORDER BY filename;`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select archive records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Filename, &rec.Region, &rec.Vault, &rec.ArchiveID,
			&rec.Location, &rec.Description, &rec.UploadedAt, &rec.TreeHash); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteByArchiveID(ctx context.Context, archiveID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM archives WHERE archive_id = $1;`, archiveID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archive records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) PutInventory(ctx context.Context, s InventorySnapshot) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO inventories (job_id, region, vault, inventory_date, body)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (job_id) DO UPDATE SET inventory_date = EXCLUDED.inventory_date, body = EXCLUDED.body;`,
			s.JobID, s.Region, s.Vault, s.InventoryDate.UTC(), s.Body)
		if err != nil {
			return fmt.Errorf("failed to store inventory: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM inventories WHERE region = $1 AND vault = $2 AND job_id NOT IN (
			SELECT job_id FROM inventories WHERE region = $1 AND vault = $2
			ORDER BY inventory_date DESC LIMIT $3);`,
			s.Region, s.Vault, keepInventories)
		if err != nil {
			return fmt.Errorf("failed to prune inventories: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) LatestInventory(ctx context.Context, region, vault string) (*InventorySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT job_id, region, vault, inventory_date, body FROM inventories
		WHERE region = $1 AND vault = $2 ORDER BY inventory_date DESC LIMIT 1;`, region, vault)

	s := &InventorySnapshot{}
	if err := row.Scan(&s.JobID, &s.Region, &s.Vault, &s.InventoryDate, &s.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return s, nil
}

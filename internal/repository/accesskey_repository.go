package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"picbed/api/internal/models"
)

var ErrAccessKeyNotFound = errors.New("access key not found")

const accessKeyColumns = `
	id, name, access_key, secret_key_hash, description, is_enabled,
	expires_at, last_used_at, created_at, updated_at`

// AccessKeyFilter narrows and orders List results. OrderBy is checked
// against a whitelist; unknown fields fall back to created_at.
type AccessKeyFilter struct {
	Name      string
	IsEnabled *bool
	Limit     int
	Offset    int
	OrderBy   string
	Order     string
}

var sortableFields = map[string]struct{}{
	"created_at":   {},
	"last_used_at": {},
	"expires_at":   {},
	"name":         {},
}

type AccessKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAccessKeyRepository(pool *pgxpool.Pool) *AccessKeyRepository {
	return &AccessKeyRepository{pool: pool}
}

func (r *AccessKeyRepository) Create(ctx context.Context, key models.AccessKey) (models.AccessKey, error) {
	const query = `
		INSERT INTO access_keys (
			name, access_key, secret_key_hash, description, is_enabled,
			expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, TRUE, $5, NOW(), NOW()
		)
		RETURNING` + accessKeyColumns

	row := r.pool.QueryRow(ctx, query,
		key.Name,
		key.AccessKey,
		key.SecretKeyHash,
		key.Description,
		key.ExpiresAt,
	)
	return scanAccessKey(row)
}

func (r *AccessKeyRepository) GetByAccessKey(ctx context.Context, accessKey string) (models.AccessKey, error) {
	const query = `SELECT` + accessKeyColumns + ` FROM access_keys WHERE access_key = $1`

	key, err := scanAccessKey(r.pool.QueryRow(ctx, query, accessKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AccessKey{}, ErrAccessKeyNotFound
		}
		return models.AccessKey{}, err
	}
	return key, nil
}

func (r *AccessKeyRepository) List(ctx context.Context, filter AccessKeyFilter) ([]models.AccessKey, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.IsEnabled != nil {
		args = append(args, *filter.IsEnabled)
		where = append(where, fmt.Sprintf("is_enabled = $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM access_keys` + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy := filter.OrderBy
	if _, ok := sortableFields[orderBy]; !ok {
		orderBy = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM access_keys%s ORDER BY %s %s NULLS LAST LIMIT $%d OFFSET $%d`,
		accessKeyColumns, whereClause, orderBy, direction, len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var keys []models.AccessKey
	for rows.Next() {
		key, err := scanAccessKey(rows)
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, key)
	}
	return keys, total, rows.Err()
}

func (r *AccessKeyRepository) Disable(ctx context.Context, accessKey string) (bool, error) {
	const query = `
		UPDATE access_keys
		SET is_enabled = FALSE, updated_at = NOW()
		WHERE access_key = $1 AND is_enabled
	`
	cmd, err := r.pool.Exec(ctx, query, accessKey)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// TouchLastUsed records a successful credential or token verification. It is
// best-effort: callers ignore the error off the critical path.
func (r *AccessKeyRepository) TouchLastUsed(ctx context.Context, accessKey string) error {
	const query = `UPDATE access_keys SET last_used_at = NOW() WHERE access_key = $1`
	_, err := r.pool.Exec(ctx, query, accessKey)
	return err
}

// DisableExpired flips is_enabled off for keys whose expiry has passed and
// returns the number of keys swept.
func (r *AccessKeyRepository) DisableExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE access_keys
		SET is_enabled = FALSE, updated_at = NOW()
		WHERE is_enabled AND expires_at IS NOT NULL AND expires_at < $1
	`
	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanAccessKey(row pgx.Row) (models.AccessKey, error) {
	var key models.AccessKey
	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.AccessKey,
		&key.SecretKeyHash,
		&key.Description,
		&key.IsEnabled,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	return key, err
}

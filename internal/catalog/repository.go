package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearledger/gearledger/internal/shared"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetItem loads one item by ID.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx,
		`SELECT id, sku, name, category_id, quantity_available, quantity_allocated,
		        reorder_level, version, created_at, updated_at
		   FROM items WHERE id = $1`, id,
	).Scan(&it.ID, &it.SKU, &it.Name, &it.CategoryID, &it.QuantityAvailable,
		&it.QuantityAllocated, &it.ReorderLevel, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
		}
		return Item{}, err
	}
	return it, nil
}

// ApplyQuantityDelta performs the conditional quantity update. The row is
// touched only when the stored version matches the supplied one; a zero
// row count on an existing item signals a stale read.
func (r *Repository) ApplyQuantityDelta(ctx context.Context, itemID, availDelta, allocDelta, version int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE items
		    SET quantity_available = quantity_available + $2,
		        quantity_allocated = quantity_allocated + $3,
		        version = version + 1,
		        updated_at = NOW()
		  WHERE id = $1 AND version = $4`,
		itemID, availDelta, allocDelta, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetItem(ctx, itemID); err != nil {
			return err
		}
		return fmt.Errorf("item %d: %w", itemID, shared.ErrVersionConflict)
	}
	return nil
}

// InsertItem creates a new SKU row.
func (r *Repository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (sku, name, category_id, quantity_available, quantity_allocated,
		                    reorder_level, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), NOW())
		 RETURNING id`,
		it.SKU, it.Name, it.CategoryID, it.QuantityAvailable, it.QuantityAllocated, it.ReorderLevel,
	).Scan(&id)
	return id, err
}

// FindItemBySKU returns the item with the given SKU, or ErrNotFound.
func (r *Repository) FindItemBySKU(ctx context.Context, sku string) (Item, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM items WHERE sku = $1`, sku).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("sku %q: %w", sku, shared.ErrNotFound)
		}
		return Item{}, err
	}
	return r.GetItem(ctx, id)
}

// ListItems returns a filtered, paginated listing plus the total count.
func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	query := `SELECT id, sku, name, category_id, quantity_available, quantity_allocated,
	                 reorder_level, version, created_at, updated_at
	            FROM items WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM items WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clause := ` AND (sku ILIKE $1 OR name ILIKE $1)`
		query += clause
		countQuery += clause
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY sku`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, (page-1)*perPage)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.CategoryID, &it.QuantityAvailable,
			&it.QuantityAllocated, &it.ReorderLevel, &it.Version, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// InsertCategory creates a category.
func (r *Repository) InsertCategory(ctx context.Context, c Category) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (code, name, lifespan_months, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id`,
		c.Code, c.Name, c.LifespanMonths,
	).Scan(&id)
	return id, err
}

// GetCategory loads one category.
func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, lifespan_months FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Code, &c.Name, &c.LifespanMonths)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, fmt.Errorf("category %d: %w", id, shared.ErrNotFound)
		}
		return Category{}, err
	}
	return c, nil
}

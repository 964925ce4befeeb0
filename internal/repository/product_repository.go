package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gearlog/ticket-service/internal/domain"
)

// ProductRepository reads inventory items and records damage.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
	UpdateStatus(ctx context.Context, id string, status domain.ProductStatus, at time.Time) error
}

type productRepository struct {
	db DBTX
}

// NewProductRepository builds the repository.
func NewProductRepository(db DBTX) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `p.id, p.company_id, p.category_id, COALESCE(c.name, ''), p.name, p.status, p.created_at, p.updated_at`

func (r *productRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	const query = `
        SELECT ` + productColumns + `
        FROM products p LEFT JOIN categories c ON c.id = p.category_id
        WHERE p.id=$1`

	var product domain.Product
	if err := scanProduct(r.db.QueryRow(ctx, query, id), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
        SELECT ` + productColumns + `
        FROM products p LEFT JOIN categories c ON c.id = p.category_id
        WHERE p.id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		var product domain.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, err
		}
		result = append(result, product)
	}
	return result, rows.Err()
}

func (r *productRepository) UpdateStatus(ctx context.Context, id string, status domain.ProductStatus, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE products SET status=$1, updated_at=$2 WHERE id=$3`, status, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanProduct(row pgx.Row, product *domain.Product) error {
	return row.Scan(
		&product.ID,
		&product.CompanyID,
		&product.CategoryID,
		&product.CategoryName,
		&product.Name,
		&product.Status,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

package repository

import (
	"context"
	"database/sql"

	"github.com/stanstork/autorun-api/internal/models"
)

type TenantRepository interface {
	Get(ctx context.Context, id string) (models.Tenant, error)
}

type tenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) Get(ctx context.Context, id string) (models.Tenant, error) {
	const query = `
		SELECT id, name, created_at, updated_at
		FROM tenant.tenants
		WHERE id = $1;
	`
	var tenant models.Tenant
	err := r.db.QueryRowContext(ctx, query, id).Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return models.Tenant{}, notFoundOr(err, "tenant "+id)
	}
	return tenant, nil
}

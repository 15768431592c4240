package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rentflow/rental-backend/internal/models"
)

// CatalogRepository reads companies and vehicles. The catalog is managed
// elsewhere; the only write here is syncing Stripe account capability.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new CatalogRepository
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetCompany returns the company or nil
func (r *CatalogRepository) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var c models.Company
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, currency, tax_rate, security_deposit_amount, insurance_per_day,
		       additional_fees, stripe_account_id, stripe_charges_enabled, created_at, updated_at
		FROM companies WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

// GetVehicle returns the vehicle or nil
func (r *CatalogRepository) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var v models.Vehicle
	err := r.db.GetContext(ctx, &v, `
		SELECT id, company_id, model_id, make, model, year, license_plate, daily_rate, is_active
		FROM vehicles WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

// GetVehicleModel returns the model or nil
func (r *CatalogRepository) GetVehicleModel(ctx context.Context, id uuid.UUID) (*models.VehicleModel, error) {
	var m models.VehicleModel
	err := r.db.GetContext(ctx, &m, `
		SELECT id, company_id, make, model, year, daily_rate
		FROM vehicle_models WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle model: %w", err)
	}
	return &m, nil
}

// ListActiveVehiclesByModel returns bookable vehicles of a model in a stable order
func (r *CatalogRepository) ListActiveVehiclesByModel(ctx context.Context, modelID uuid.UUID) ([]*models.Vehicle, error) {
	var vehicles []*models.Vehicle
	err := r.db.SelectContext(ctx, &vehicles, `
		SELECT id, company_id, model_id, make, model, year, license_plate, daily_rate, is_active
		FROM vehicles
		WHERE model_id = $1 AND is_active = TRUE
		ORDER BY license_plate ASC, id ASC`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles by model: %w", err)
	}
	return vehicles, nil
}

// SetChargesEnabled syncs a connected account's capability from Stripe.
// Returns the number of companies updated.
func (r *CatalogRepository) SetChargesEnabled(ctx context.Context, stripeAccountID string, enabled bool) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE companies
		SET stripe_charges_enabled = $2, updated_at = NOW()
		WHERE stripe_account_id = $1 AND stripe_charges_enabled <> $2`, stripeAccountID, enabled)
	if err != nil {
		return 0, fmt.Errorf("failed to update company charges flag: %w", err)
	}
	return result.RowsAffected()
}

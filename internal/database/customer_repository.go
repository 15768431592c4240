package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rentflow/rental-backend/internal/models"
)

const customerColumns = `
	id, company_id, email, first_name, last_name, phone,
	gateway_customer_id, password_hash, invitation_sent_at,
	created_at, updated_at`

// CustomerRepository handles renter accounts
type CustomerRepository struct {
	db *sqlx.DB
}

// NewCustomerRepository creates a new CustomerRepository
func NewCustomerRepository(db *sqlx.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// GetByID returns the customer or nil
func (r *CustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var c models.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

// GetByEmail finds a company's customer by case-insensitive email
func (r *CustomerRepository) GetByEmail(ctx context.Context, companyID uuid.UUID, email string) (*models.Customer, error) {
	var c models.Customer
	err := r.db.GetContext(ctx, &c, `
		SELECT `+customerColumns+` FROM customers
		WHERE company_id = $1 AND LOWER(email) = $2`, companyID, strings.ToLower(email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer by email: %w", err)
	}
	return &c, nil
}

// Create inserts a customer. If the email is already registered for the
// company the existing row is returned instead.
func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	var created models.Customer
	err := r.db.GetContext(ctx, &created, `
		INSERT INTO customers (`+customerColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (company_id, email) DO UPDATE SET updated_at = customers.updated_at
		RETURNING `+customerColumns,
		c.ID, c.CompanyID, c.Email, c.FirstName, c.LastName, c.Phone,
		c.GatewayCustomerID, c.PasswordHash, c.InvitationSentAt,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &created, nil
}

// SetGatewayCustomerID stores the Stripe customer id once
func (r *CustomerRepository) SetGatewayCustomerID(ctx context.Context, id uuid.UUID, gatewayCustomerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET gateway_customer_id = $2, updated_at = NOW()
		WHERE id = $1 AND gateway_customer_id IS NULL`, id, gatewayCustomerID)
	if err != nil {
		return fmt.Errorf("failed to set gateway customer id: %w", err)
	}
	return nil
}

// ClaimInvitation marks the one-time invitation as sent and stores the
// temporary credential. Only the first caller for a customer without a
// password gets true.
func (r *CustomerRepository) ClaimInvitation(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET invitation_sent_at = $3,
		    password_hash = $2,
		    updated_at = NOW()
		WHERE id = $1 AND invitation_sent_at IS NULL AND password_hash IS NULL`, id, passwordHash, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim customer invitation: %w", err)
	}
	return rowsAffected(result)
}

// ResetInvitation reopens the invitation after a delivery failure so the
// next confirmation retries it. The unsent temporary credential is dropped.
func (r *CustomerRepository) ResetInvitation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET invitation_sent_at = NULL, password_hash = NULL, updated_at = NOW()
		WHERE id = $1 AND invitation_sent_at = $2`, id, at)
	if err != nil {
		return fmt.Errorf("failed to reset customer invitation: %w", err)
	}
	return nil
}

package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
)

// CredentialResolver is the single lookup every payment operation goes through
type CredentialResolver interface {
	ResolveGatewayCredentials(ctx context.Context, companyID uuid.UUID) (GatewayCredentials, error)
}

// CompanyLookup reads a company by id
type CompanyLookup interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
}

// StripeCredentialResolver pairs the platform secret key with the company's
// connected account. There is no fallback to the platform account.
type StripeCredentialResolver struct {
	secretKey string
	companies CompanyLookup
}

// NewStripeCredentialResolver creates a resolver
func NewStripeCredentialResolver(secretKey string, companies CompanyLookup) *StripeCredentialResolver {
	return &StripeCredentialResolver{secretKey: secretKey, companies: companies}
}

// ResolveGatewayCredentials returns credentials or a ConfigurationError
func (r *StripeCredentialResolver) ResolveGatewayCredentials(ctx context.Context, companyID uuid.UUID) (GatewayCredentials, error) {
	if r.secretKey == "" {
		return GatewayCredentials{}, &models.ConfigurationError{Message: "stripe secret key is not configured"}
	}

	company, err := r.companies.GetCompany(ctx, companyID)
	if err != nil {
		return GatewayCredentials{}, fmt.Errorf("failed to load company: %w", err)
	}
	if company == nil {
		return GatewayCredentials{}, &models.ConfigurationError{
			Message: fmt.Sprintf("company %s does not exist", companyID),
		}
	}
	if company.StripeAccountID == nil || *company.StripeAccountID == "" {
		return GatewayCredentials{}, &models.ConfigurationError{
			Message: fmt.Sprintf("company %s has no connected payment account", companyID),
		}
	}
	if !company.StripeChargesEnabled {
		return GatewayCredentials{}, &models.ConfigurationError{
			Message: fmt.Sprintf("payment account for company %s cannot accept charges", companyID),
		}
	}

	return GatewayCredentials{
		SecretKey: r.secretKey,
		AccountID: *company.StripeAccountID,
	}, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a renter belonging to one company
type Customer struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	CompanyID         uuid.UUID  `json:"company_id" db:"company_id"`
	Email             string     `json:"email" db:"email"`
	FirstName         string     `json:"first_name" db:"first_name"`
	LastName          string     `json:"last_name" db:"last_name"`
	Phone             *string    `json:"phone,omitempty" db:"phone"`
	GatewayCustomerID *string    `json:"-" db:"gateway_customer_id"`
	PasswordHash      *string    `json:"-" db:"password_hash"`
	InvitationSentAt  *time.Time `json:"invitation_sent_at,omitempty" db:"invitation_sent_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name
func (c *Customer) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

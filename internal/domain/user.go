package domain

import "time"

// User is an operator account belonging to a company.
// Super admins have no company.
type User struct {
	ID        string
	CompanyID *string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

package domain

import "time"

// Employee is a person assets are checked out to.
type Employee struct {
	ID           string
	CompanyID    *string
	DepartmentID *string
	Name         string
	Email        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

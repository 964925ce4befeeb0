// Package tenancy keeps ticket relationships inside one company.
package tenancy

import (
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

// Guard validates cross-company references before they are written.
type Guard struct{}

// NewGuard returns a guard.
func NewGuard() *Guard {
	return &Guard{}
}

// AssertSameCompany fails when the candidate belongs to another company.
// Tickets without a company (super admin context) skip the check.
// field names the relationship being checked, e.g. "assigned_user" or
// "assigned_employee"; it prefixes the company key in the error context.
func (g *Guard) AssertSameCompany(field string, ticketCompanyID, candidateCompanyID *string) error {
	if ticketCompanyID == nil {
		return nil
	}
	if candidateCompanyID != nil && *candidateCompanyID == *ticketCompanyID {
		return nil
	}
	return apperrors.NewCrossTenantAssignment(
		"cannot link a "+describe(field)+" from a different company",
		map[string]any{
			field + "_company_id": deref(candidateCompanyID),
			"ticket_company_id":   *ticketCompanyID,
		},
	)
}

// AssertEntityExists fails with NotFound when found is false.
func (g *Guard) AssertEntityExists(found bool, resource, id string) error {
	if found {
		return nil
	}
	return apperrors.NewNotFound(resource, map[string]any{resource + "_id": id})
}

func describe(field string) string {
	switch field {
	case FieldAssignedEmployee:
		return "employee"
	case FieldProduct:
		return "product"
	default:
		return "user"
	}
}

func deref(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// Relationship names used in error context.
const (
	FieldAssignedUser     = "assigned_user"
	FieldAssignedEmployee = "assigned_employee"
	FieldProduct          = "product"
)

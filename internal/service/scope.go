package service

import (
	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/repository"
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

// ScopeForActor resolves the tenant scope an actor reads and writes in.
// allTenants requests the cross-tenant mode, which only super admins get.
// A super admin without a company context always works cross-tenant.
func ScopeForActor(actor domain.Actor, allTenants bool) (repository.TenantScope, error) {
	superAdmin := actor.Can(domain.CapabilitySuperAdmin)
	if allTenants {
		if !superAdmin {
			return repository.TenantScope{}, apperrors.NewForbidden("cross-tenant access requires super admin")
		}
		return repository.AllTenants(), nil
	}
	if actor.CompanyID != nil && *actor.CompanyID != "" {
		return repository.ForCompany(*actor.CompanyID), nil
	}
	if superAdmin {
		return repository.AllTenants(), nil
	}
	return repository.TenantScope{}, apperrors.NewForbidden("tenant context required")
}

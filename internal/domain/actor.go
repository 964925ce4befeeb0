package domain

// Capability is a permission granted to an actor.
type Capability string

const (
	CapabilityAdmin      Capability = "admin"
	CapabilitySuperAdmin Capability = "super_admin"
)

// Actor identifies who performs an operation and in which tenant.
type Actor struct {
	UserID       string
	CompanyID    *string
	Capabilities []Capability
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(c Capability) bool {
	for _, held := range a.Capabilities {
		if held == c {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may perform admin-only operations.
// Super admins are admins everywhere.
func (a Actor) IsAdmin() bool {
	return a.Can(CapabilityAdmin) || a.Can(CapabilitySuperAdmin)
}

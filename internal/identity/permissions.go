package identity

// Permission keys recognized by the control plane. The full multi-tenant
// RBAC surface the platform's own identity provider might carry (orgs,
// custom roles) is out of scope for the core; dispatchd only needs to tell
// "can create jobs" from "read-only dashboard viewer" from "can acknowledge
// risk violations".
const (
	PermJobCreate       = "dispatch.job.create"
	PermRiskAcknowledge = "risk.acknowledge"
)

// staticRolePermissions is a fixed role->permission table. Roles come from
// the externally-issued token's "roles" claim; dispatchd never mints or
// stores roles itself.
var staticRolePermissions = map[string][]string{
	"admin":    {PermJobCreate, PermRiskAcknowledge},
	"operator": {PermJobCreate},
	"auditor":  {},
}

// HasPermission reports whether any of the given roles grants perm.
func HasPermission(roles []string, perm string) bool {
	for _, role := range roles {
		for _, p := range staticRolePermissions[role] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

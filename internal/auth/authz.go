package auth

// RestrictMode narrows a gate beyond its role set.
type RestrictMode int

const (
	RestrictNone RestrictMode = iota
	// RestrictSuperuserOnly admits only principals with the superuser flag.
	// Holding the "admin" role does not satisfy this mode; the two bypass
	// mechanisms are independent.
	RestrictSuperuserOnly
)

// Gate describes who may see or execute a target.
type Gate struct {
	Hidden   bool
	Restrict RestrictMode
	Roles    []string // ANY-of; empty means open to any authenticated principal
}

// Allowed is the single authorization predicate. Both the server-side
// execution gate (authoritative) and the catalog visibility filter (advisory)
// call this one function rather than reimplementing the rule.
//
// Role comparison is case-insensitive after trimming. A superuser or a holder
// of the "admin" role passes any role requirement, but a hidden gate denies
// everyone and RestrictSuperuserOnly admits superusers alone.
func Allowed(p *Principal, g Gate) bool {
	if g.Hidden {
		return false
	}
	if g.Restrict == RestrictSuperuserOnly {
		return p != nil && p.Superuser
	}
	if len(g.Roles) == 0 {
		return true
	}
	if p == nil {
		return false
	}
	if p.Superuser {
		return true
	}
	have := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		if r = normalizeRole(r); r != "" {
			have[r] = struct{}{}
		}
	}
	if _, ok := have["admin"]; ok {
		return true
	}
	for _, r := range g.Roles {
		if _, ok := have[normalizeRole(r)]; ok {
			return true
		}
	}
	return false
}

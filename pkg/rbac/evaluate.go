package rbac

// Evaluate applies deny-overrides semantics to the statements of every
// policy supplied: any matching Deny statement loses, otherwise at
// least one matching Allow statement wins, otherwise the default is
// deny.
func Evaluate(policies []Policy, action, resource string) bool {
	allowed := false
	for _, p := range policies {
		for _, st := range p.Statements {
			if !st.Matches(action, resource) {
				continue
			}
			if st.Effect == EffectDeny {
				return false
			}
			if st.Effect == EffectAllow {
				allowed = true
			}
		}
	}
	return allowed
}

// Matches reports whether the statement covers the action/resource
// pair. Matching is exact or wildcard; there is no prefix globbing.
func (st Statement) Matches(action, resource string) bool {
	return matchList(st.Actions, action) && matchList(st.Resources, resource)
}

func matchList(list []string, value string) bool {
	for _, v := range list {
		if v == "*" || v == value {
			return true
		}
	}
	return false
}

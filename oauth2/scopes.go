package oauth2

import "strings"

// ParseScopes splits a space-delimited scope string, dropping empty tokens.
func ParseScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return []string{}
	}
	result := []string{}
	for _, s := range strings.Split(scope, " ") {
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins scope values into the wire format.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsScope reports whether scopes includes the given value.
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every value in scopes is present in allowed.
func SubsetOf(scopes, allowed []string) bool {
	for _, s := range scopes {
		if !ContainsScope(allowed, s) {
			return false
		}
	}
	return true
}

package identity

import "regexp"

// reservedAliases are rejected locally before any control-plane lookup
// (§4.C), so they never collide with real tunnel traffic.
var reservedAliases = map[string]struct{}{
	"www":     {},
	"api":     {},
	"x":       {},
	"t":       {},
	"docs":    {},
	"support": {},
	"status":  {},
	"health":  {},
	"mail":    {},
}

// IsReservedAlias reports whether alias is in the compiled-in reserved set.
func IsReservedAlias(alias string) bool {
	_, reserved := reservedAliases[alias]
	return reserved
}

var tokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{3,64}$`)

// ValidTokenShape reports whether token matches the hostname token charset
// (§4.C): letters and digits only, 3 to 64 characters.
func ValidTokenShape(token string) bool {
	return tokenPattern.MatchString(token)
}

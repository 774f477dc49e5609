package protocol

// IdentityLength is the fixed length of a device identity token.
const IdentityLength = 11

// ValidIdentity reports whether s is a well-formed identity: exactly
// IdentityLength lowercase-alphanumeric characters. Identities are
// chosen once at device setup and serve as the routing address at the
// relay.
func ValidIdentity(s string) bool {
	if len(s) != IdentityLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

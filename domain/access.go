package domain

// Principal is an authenticated caller as supplied by the identity provider.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
}

// CanRead reports whether identity may see t.
func CanRead(identity string, t Task) bool {
	return t.OwnerID == identity || t.IsPublic
}

// CanWrite reports whether identity may mutate or delete t.
func CanWrite(identity string, t Task) bool {
	return identity != "" && t.OwnerID == identity
}

package domain

// Capability identifies an optional feature a destination supports.
type Capability string

const (
	CapabilityArticle     Capability = "article"
	CapabilityDraft       Capability = "draft"
	CapabilityImageUpload Capability = "image_upload"
)

// CapabilitySet is the set of capabilities advertised by an adapter.
type CapabilitySet map[Capability]bool

// Has reports whether the capability is present.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// PlatformDescriptor describes one destination as shown to callers. Identity
// fields come from the adapter registry at load time; authentication fields
// are refreshed through the auth cache.
type PlatformDescriptor struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Icon         string        `json:"icon,omitempty"`
	Homepage     string        `json:"homepage,omitempty"`
	Capabilities CapabilitySet `json:"capabilities"`

	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	Error           string `json:"error,omitempty"`
}

// AuthStatus is the result of one authentication probe against a destination.
type AuthStatus struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	UserID          string `json:"userId,omitempty"`
	Username        string `json:"username,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	Error           string `json:"error,omitempty"`
}

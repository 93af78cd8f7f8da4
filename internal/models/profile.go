package models

// CrossReference is an external-account link attached to a profile, such as a
// verified handle on a secondary network.
type CrossReference struct {
	Network string `json:"network"`
	Handle  string `json:"handle"`
}

// Profile is the normalized social-graph profile for one identity.
// All fields except Fid are optional and default to empty. A Profile is
// produced once per request and never mutated afterwards.
type Profile struct {
	Fid         uint64           `json:"fid"`
	Handle      string           `json:"handle,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Bio         string           `json:"bio,omitempty"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	HomepageURL string           `json:"homepage_url,omitempty"`
	Location    string           `json:"location,omitempty"`
	CrossRefs   []CrossReference `json:"cross_refs,omitempty"`
}

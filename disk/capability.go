package disk

// publicAliases are disk names treated as public regardless of configuration.
var publicAliases = map[string]bool{
	"public":    true,
	"s3-public": true,
}

// Capability is what a disk allows for URL derivation.
type Capability struct {
	Disk               string `json:"disk"`
	Public             bool   `json:"is_public"`
	NativeSignedURL    bool   `json:"native_signed_url"`
	NativeTemporaryURL bool   `json:"native_temporary_url"`
	// BaseURL is the configured public base URL. It is always empty for a
	// private disk.
	BaseURL string `json:"base_url,omitempty"`
}

// Private is the negation of Public; there is no third state.
func (c Capability) Private() bool { return !c.Public }

// IsPublic applies the visibility policy, first match wins:
// explicit "public" visibility, a public alias name, a configured base URL.
// Everything else is private.
func IsPublic(settings Settings, name string) bool {
	cfg, ok := settings.Disks[name]
	if ok && cfg.Visibility == VisibilityPublic {
		return true
	}
	if publicAliases[name] {
		return true
	}
	return ok && cfg.URL != ""
}

// Resolve computes the capability of the named disk from a settings snapshot
// and the backend's declared features. It has no side effects.
func Resolve(settings Settings, name string, features Features) Capability {
	c := Capability{
		Disk:               name,
		Public:             IsPublic(settings, name),
		NativeSignedURL:    features.SignedURL,
		NativeTemporaryURL: features.TemporaryURL,
	}
	if c.Public {
		c.BaseURL = settings.Disks[name].URL
	}
	return c
}

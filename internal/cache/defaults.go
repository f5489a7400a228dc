package cache

import "time"

// Namespace names used by the coordinator.
const (
	MarketData = "MARKET_DATA"
	UserData   = "USER_DATA"
	Models     = "MODELS"
	Analytics  = "ANALYTICS"
)

// DefaultNamespaces returns the built-in namespace declarations.
func DefaultNamespaces() []NamespaceConfig {
	return []NamespaceConfig{
		{Name: MarketData, DefaultTTL: 30 * time.Second, MaxEntries: 1000},
		{Name: UserData, DefaultTTL: 5 * time.Minute, MaxEntries: 500},
		{Name: Models, DefaultTTL: time.Hour, MaxEntries: 100},
		{Name: Analytics, DefaultTTL: 10 * time.Minute, MaxEntries: 250},
	}
}

// MergeNamespaces overlays overrides on the defaults by name. Overrides for
// unknown names are appended.
func MergeNamespaces(defaults, overrides []NamespaceConfig) []NamespaceConfig {
	out := make([]NamespaceConfig, len(defaults))
	copy(out, defaults)

	for _, o := range overrides {
		found := false
		for i := range out {
			if out[i].Name != o.Name {
				continue
			}
			if o.DefaultTTL > 0 {
				out[i].DefaultTTL = o.DefaultTTL
			}
			if o.MaxEntries != 0 {
				out[i].MaxEntries = o.MaxEntries
			}
			found = true
			break
		}
		if !found {
			out = append(out, o)
		}
	}
	return out
}

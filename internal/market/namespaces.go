package market

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/model"
)

// RegisterNamespaces declares each namespace in store with the value type
// the coordinator stores in it. Namespaces without a dedicated type hold
// opaque JSON.
func RegisterNamespaces(store *cache.Store, cfgs []cache.NamespaceConfig) error {
	for _, cfg := range cfgs {
		var err error
		switch cfg.Name {
		case cache.MarketData:
			_, err = cache.Register[model.Update](store, cfg)
		case cache.UserData:
			_, err = cache.Register[model.UserData](store, cfg)
		default:
			_, err = cache.Register[json.RawMessage](store, cfg)
		}
		if err != nil {
			return fmt.Errorf("register namespace: %w", err)
		}
	}
	return nil
}

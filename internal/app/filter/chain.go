package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// FilterConfig mirrors one entry of the filters config section.
type FilterConfig struct {
	Enabled  bool
	Settings map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds a chain from the registered filters.
// The playlist size filter is always installed, with defaults when not configured.
func NewChainFromConfig(configs map[string]FilterConfig) (*Chain, error) {
	chain := NewChain()

	sizeCfg, ok := configs[PlaylistSizeFilterName]
	if !ok {
		sizeCfg = FilterConfig{Enabled: true}
	}
	if !sizeCfg.Enabled {
		zlog.Warn().Msgf("filter cannot be disabled, keeping it: name=%s", PlaylistSizeFilterName)
	}
	size := NewPlaylistSizeFilter()
	if err := size.ValidateConfig(sizeCfg.Settings); err != nil {
		return nil, errors.Wrapf(err, "filter %s", PlaylistSizeFilterName)
	}
	chain.Add(size)

	for name, cfg := range configs {
		if name == PlaylistSizeFilterName || !cfg.Enabled {
			continue
		}
		factory, exists := registry[name]
		if !exists {
			return nil, errors.Newf("unknown filter: %s", name)
		}
		f := factory()
		if err := f.ValidateConfig(cfg.Settings); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("registered filter: name=%s", name)
	}
	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req LoadRequest) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected load: filter=%s code=%s ref=%s", f.Name(), result.Code, req.Ref)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

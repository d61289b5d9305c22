package publisher

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/curately/atsync/cfg"
)

// Route binds a sink to the (provider, entity-type) pairs it accepts.
// Empty pattern lists match everything.
type Route struct {
	Name          string
	Topic         string
	Sink          Sink
	providerGlobs []glob.Glob
	entityGlobs   []glob.Glob
}

// NewRoute compiles a sink configuration into a route.
func NewRoute(config cfg.SinkConfiguration, sink Sink) (*Route, error) {
	r := &Route{
		Name:  config.Name,
		Topic: config.Topic,
		Sink:  sink,
	}

	for _, pattern := range config.FilterProviders {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid provider pattern %q: %w", pattern, err)
		}
		r.providerGlobs = append(r.providerGlobs, g)
	}
	for _, pattern := range config.FilterEntities {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
		}
		r.entityGlobs = append(r.entityGlobs, g)
	}

	return r, nil
}

// Match returns true if the route accepts envelopes for this provider and
// entity type.
func (r *Route) Match(provider, entityType string) bool {
	providerMatch := len(r.providerGlobs) == 0
	if !providerMatch {
		for _, g := range r.providerGlobs {
			if g.Match(provider) {
				providerMatch = true
				break
			}
		}
	}
	if !providerMatch {
		return false
	}

	entityMatch := len(r.entityGlobs) == 0
	if !entityMatch {
		for _, g := range r.entityGlobs {
			if g.Match(entityType) {
				entityMatch = true
				break
			}
		}
	}
	return entityMatch
}

package publisher

import (
	"fmt"
	"sync"

	"github.com/curately/atsync/cfg"
)

// Message is one envelope on the wire: the serialized body plus message
// attributes (content encoding, source provider).
type Message struct {
	Key   string
	Value []byte
	Attrs map[string]string
}

// Sink is a destination for publish batches. One Publish call carries one
// whole batch; the sink decides how to map that onto its transport.
type Sink interface {
	// Publish sends one batch to the given topic.
	Publish(topic string, msgs []Message) error
	// Close releases any resources held by the sink
	Close() error
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

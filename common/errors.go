package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the failure classes the pipeline distinguishes.
// Expected "no rows" conditions are never errors; accessors return nil
// values for those.
var (
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrEmptyOrInvalidResponse = errors.New("empty or invalid response")
	ErrSerializationFailure   = errors.New("serialization failure")
	ErrPublishFailure         = errors.New("publish failure")
	ErrValidationFailure      = errors.New("validation failure")
)

// UpstreamUnavailable wraps a transport or HTTP failure from a provider call.
func UpstreamUnavailable(provider, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnavailable, provider, op, err)
}

// EmptyOrInvalidResponse marks a successful provider call that carried no
// usable data.
func EmptyOrInvalidResponse(provider, op string) error {
	return fmt.Errorf("%w: %s %s", ErrEmptyOrInvalidResponse, provider, op)
}

// SerializationFailure wraps an encoding error for a single entity.
func SerializationFailure(entityType, entityID string, err error) error {
	return fmt.Errorf("%w: %s/%s: %v", ErrSerializationFailure, entityType, entityID, err)
}

// PublishFailure wraps an event bus rejection of one batch.
func PublishFailure(topic string, size int, err error) error {
	return fmt.Errorf("%w: topic %s (%d envelopes): %v", ErrPublishFailure, topic, size, err)
}

// ValidationError carries the missing-field map from mandatory-field
// resolution back to the caller.
type ValidationError struct {
	EntityType string
	EntityID   string
	Missing    map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%v: %s/%s missing [%s]",
		ErrValidationFailure, e.EntityType, e.EntityID, strings.Join(names, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailure }

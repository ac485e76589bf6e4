package voice

import (
	"errors"
	"strings"
)

var (
	ErrInvalidArgument = errors.New("voice: invalid argument")
	// ErrConfiguration matches any *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("voice: not configured")
	// ErrCarrier wraps carrier rejections and transport failures. The wrapped
	// detail is for server logs only.
	ErrCarrier = errors.New("voice: carrier request failed")
)

// ConfigurationError lists every required env key that is not set.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "voice: missing configuration: " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func missingConfig(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: keys}
}

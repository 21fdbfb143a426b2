package relevance

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid threshold configuration")

// ConfigError reports a threshold configuration that cannot be evaluated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// ParseMode maps a user supplied mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAbsolute, ModeRelative, ModePercentile:
		return m, nil
	}
	return "", &ConfigError{Field: "threshold_mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// ParseMissingScorePolicy maps a policy name; empty means exclude.
func ParseMissingScorePolicy(s string) (MissingScorePolicy, error) {
	switch p := MissingScorePolicy(s); p {
	case "":
		return MissingScoreExclude, nil
	case MissingScoreExclude, MissingScorePassThrough:
		return p, nil
	}
	return "", &ConfigError{Field: "missing_score", Reason: fmt.Sprintf("unknown policy %q", s)}
}

// Validate checks the config against the rules of its mode.
func (c ThresholdConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return &ConfigError{Field: "threshold_value", Reason: "must be finite"}
	}
	if c.Mode != ModeAbsolute && (c.Value < 0 || c.Value > 1) {
		return &ConfigError{Field: "threshold_value", Reason: fmt.Sprintf("must be within [0,1] for %s mode, got %g", c.Mode, c.Value)}
	}
	if c.AbsoluteFloor != nil && (math.IsNaN(*c.AbsoluteFloor) || math.IsInf(*c.AbsoluteFloor, 0)) {
		return &ConfigError{Field: "absolute_floor", Reason: "must be finite"}
	}
	if c.MinDocuments < 0 {
		return &ConfigError{Field: "min_documents", Reason: "must not be negative"}
	}
	return nil
}

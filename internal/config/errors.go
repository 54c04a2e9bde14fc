package config

import "errors"

var (
	// ErrThresholdNotFound is returned when a threshold id is unknown
	ErrThresholdNotFound = errors.New("threshold not found")

	// ErrChainNotFound is returned when an escalation chain id is unknown
	ErrChainNotFound = errors.New("escalation chain not found")

	// ErrInvalidThreshold is returned when a threshold definition is malformed
	ErrInvalidThreshold = errors.New("invalid threshold definition")
)

package domain

import "errors"

var (
	// ErrViewNotFound is returned when a view ID does not exist.
	ErrViewNotFound = errors.New("view not found")
	// ErrChannelNotFound is returned when a channel has no configuration.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrNotChannelMember is returned when a view is activated on a channel
	// that does not list it.
	ErrNotChannelMember = errors.New("view is not a channel member")
)

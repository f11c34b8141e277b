package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrNoItem          = errors.New("no claimable item")

	ErrEmptyQueueName  = fmt.Errorf("%w: queue name must not be empty", ErrInvalidArgument)
	ErrEmptyCollection = fmt.Errorf("%w: collection name must not be empty", ErrInvalidArgument)
	ErrNilRepository   = fmt.Errorf("%w: document repository must not be nil", ErrInvalidArgument)
	ErrNilPayload      = fmt.Errorf("%w: payload must not be nil", ErrInvalidArgument)
	ErrInvalidRepeat   = fmt.Errorf("%w: repeat must be none, minutely, hourly, daily, weekly or custom", ErrInvalidArgument)
	ErrMissingNextRun  = fmt.Errorf("%w: next_run is required", ErrInvalidArgument)
)

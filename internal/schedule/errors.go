package schedule

import "errors"

var (
	// ErrInvalidIterations is returned when the run has no steps.
	ErrInvalidIterations = errors.New("iterations must be a positive integer")
	// ErrInvalidStep is returned when report_step or checkpoint_step is not positive.
	ErrInvalidStep = errors.New("report and checkpoint steps must be positive integers")
	// ErrInvalidBatch is returned when the batch cannot be split as configured.
	ErrInvalidBatch = errors.New("batch size must be positive and divisible across devices")
)

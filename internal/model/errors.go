package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord is matched by every *InvalidRecordError.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrShape is matched by every *ShapeError.
	ErrShape = errors.New("shape mismatch")
	// ErrNumeric reports NaN or infinite values in model output.
	ErrNumeric = errors.New("non-finite value")
)

// InvalidRecordError is returned for records the classifier cannot encode.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record: %s", e.Reason)
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// ShapeError reports a vector whose length disagrees with the configured dimension.
type ShapeError struct {
	Stage string
	Want  int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected dimension %d, got %d", e.Stage, e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

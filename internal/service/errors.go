package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

type ErrJobNotCancellable struct {
	error
}

func NewErrJobNotCancellable(id uuid.UUID) *ErrJobNotCancellable {
	return &ErrJobNotCancellable{fmt.Errorf("job %s is already in a terminal state", id)}
}

type ErrResultNotFound struct {
	error
}

func NewErrResultNotFound(id uuid.UUID) *ErrResultNotFound {
	return &ErrResultNotFound{fmt.Errorf("validation result %s not found", id)}
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(message string) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf("bad request: %s", message)}
}

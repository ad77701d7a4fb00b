package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors specific to job lookup/state, grounded on the teacher's
// internal/jobs/errors.go sentinel + wrap-helper style. The broader error
// taxonomy (spec §7) lives in internal/core.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobNotActive = errors.New("job is not active")
)

func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func jobNotActiveError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotActive, id)
}

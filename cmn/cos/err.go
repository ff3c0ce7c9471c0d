// Package cos holds small, dependency-light types and the error
// vocabulary shared by every control-core package: never bubble a wire
// or persistence parse error up as a panic, always as a typed error or a
// boolean per §7 of the design.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package cos

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

type (
	// ErrNotFound reports a lookup miss (universe, port, device, patch
	// target) distinctly from a malformed-input error.
	ErrNotFound struct {
		what string
	}

	// ErrPatchConflict is returned by the port registry when the
	// loop/multi-patch policy refuses a patch request (§4.3).
	ErrPatchConflict struct {
		reason string
	}

	// Errs aggregates independent failures (e.g. one failed sink write
	// per universe sweep) without aborting the remaining work.
	Errs struct {
		mu   sync.Mutex
		errs []error
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

func NewErrPatchConflict(format string, a ...any) *ErrPatchConflict {
	return &ErrPatchConflict{fmt.Sprintf(format, a...)}
}

func (e *ErrPatchConflict) Error() string { return "patch rejected: " + e.reason }

func IsErrPatchConflict(err error) bool {
	_, ok := err.(*ErrPatchConflict)
	return ok
}

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.errs = append(e.errs, errors.WithStack(err))
	e.mu.Unlock()
}

func (e *Errs) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return e.errs[0]
}

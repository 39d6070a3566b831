/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed May  2 09:30:47 2018 mstenber
 * Last modified: Fri May  4 14:31:12 2018 mstenber
 * Edit time:     41 min
 *
 */

package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fingon/go-zlfs/mlog"
)

// Result of one kernel execution. Status is StatusOK or one of the
// negative abort codes; Data is only valid with StatusOK.
type Result struct {
	Status      int64
	Data        []byte
	ReturnCalls int
	Steps       uint64
	Err         error
}

func (self *Result) OK() bool {
	return self.Status == StatusOK
}

// Executor runs a kernel program against an invocation.
type Executor interface {
	Execute(ctx context.Context, program []byte, inv *Invocation) Result
}

// Native runs registered Go programs on their own goroutine, bounded
// by a step budget and a wall-clock timeout (zero means unbounded).
type Native struct {
	Budget   uint64
	Timeout  time.Duration
	Registry *Registry
}

var _ Executor = &Native{}

func StatusOf(err error) int64 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrBudget):
		return StatusBudget
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrViolation), errors.Is(err, ErrAborted),
		errors.Is(err, ErrUnknownProgram), errors.Is(err, ErrABI),
		errors.Is(err, ErrCursorEnd):
		return StatusViolation
	}
	return StatusIO
}

func (self *Native) registry() *Registry {
	if self.Registry != nil {
		return self.Registry
	}
	return DefaultRegistry
}

func (self *Native) Execute(ctx context.Context, program []byte, inv *Invocation) (res Result) {
	defer func() {
		res.Status = StatusOf(res.Err)
		if res.Err != nil {
			inv.Abort()
			res.Data = nil
			mlog.Printf2("kernel/executor", "Execute failed: %v (status %d)", res.Err, res.Status)
		}
	}()
	name, params, err := ParseProgram(program)
	if err != nil {
		res.Err = err
		return
	}
	fn := self.registry().Lookup(name)
	if fn == nil {
		res.Err = fmt.Errorf("%w: %q", ErrUnknownProgram, name)
		return
	}
	if self.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, self.Timeout)
		defer cancel()
	}
	k := newKernel(ctx, inv, params, self.Budget)
	done := make(chan error, 1)
	go func() {
		done <- k.run(fn)
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		// The goroutine dies on its next host call.
		inv.Abort()
		err = fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	res.Steps = k.Steps()
	res.Data, res.ReturnCalls = inv.Returned()
	if err == nil && res.ReturnCalls == 0 {
		err = fmt.Errorf("%w: %s finished without return_data", ErrViolation, name)
	}
	res.Err = err
	mlog.Printf2("kernel/executor", "Execute %s: %d steps, %d bytes", name, res.Steps, len(res.Data))
	return
}

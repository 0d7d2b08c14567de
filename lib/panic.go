package lib

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
)

// FatalError terminates an environment that hit a condition the library
// cannot recover from. It is raised with panic and never returned.
type FatalError struct {
	Env abi.EnvID
	Op  string
	VA  uintptr
	Err error
}

// Error implements the error interface.
func (fe *FatalError) Error() string {
	return fmt.Sprintf("[%s] user panic in %s at va %08x: %v", fe.Env, fe.Op, fe.VA, fe.Err)
}

// Unwrap returns the cause of the failure.
func (fe *FatalError) Unwrap() error {
	return fe.Err
}

// fatal logs the failing operation and address and aborts the process.
func (p *Process) fatal(op string, va uintptr, err error) {
	fe := &FatalError{Env: p.self, Op: op, VA: va, Err: err}
	p.log.WithFields(logrus.Fields{
		"env": p.self,
		"op":  op,
		"va":  fmt.Sprintf("%08x", va),
	}).WithError(err).Error("unrecoverable error")
	panic(fe)
}

// Panicf aborts the process with a formatted message.
func (p *Process) Panicf(format string, args ...interface{}) {
	p.fatal("panic", 0, fmt.Errorf(format, args...))
}

// Package abi defines the contract between the simulated kernel and the
// user-mode library: environment ids and states, page table entry bits, fault
// error codes, the trap frame pushed onto the user exception stack and the
// view of an executing environment that user-mode code is handed.
package abi

import "fmt"

const (
	// LogNENV is log2 of the size of the environment table.
	LogNENV = 10

	// NENV is the maximum number of environments.
	NENV = 1 << LogNENV

	// envGenShift is the position of the generation counter in an EnvID.
	envGenShift = 12
)

// EnvID identifies an environment. The low LogNENV bits select a slot in the
// environment table; the remaining bits are a generation counter that makes
// ids of recycled slots unique. The zero value names the calling environment
// in syscalls.
type EnvID int32

// ENVX returns the environment table slot of id.
func ENVX(id EnvID) int {
	return int(id) & (NENV - 1)
}

// NextEnvID returns the id to give to an environment allocated in slot after
// an environment with id prev last occupied it.
func NextEnvID(prev EnvID, slot int) EnvID {
	generation := (int32(prev) + (1 << envGenShift)) &^ (NENV - 1)
	if generation <= 0 {
		generation = 1 << envGenShift
	}
	return EnvID(generation | int32(slot))
}

// String implements fmt.Stringer.
func (id EnvID) String() string {
	return fmt.Sprintf("%08x", int32(id))
}

// EnvStatus describes the scheduling state of an environment.
type EnvStatus uint8

const (
	EnvFree EnvStatus = iota
	EnvDying
	EnvRunnable
	EnvRunning
	EnvNotRunnable
)

var envStatusNames = [...]string{
	EnvFree:        "free",
	EnvDying:       "dying",
	EnvRunnable:    "runnable",
	EnvRunning:     "running",
	EnvNotRunnable: "not-runnable",
}

// String implements fmt.Stringer.
func (s EnvStatus) String() string {
	if int(s) < len(envStatusNames) {
		return envStatusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

package env

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gopherjos/abi"
	"gopherjos/kernel/kfmt"
)

// Run schedules environments round-robin until none is runnable, the context
// is cancelled or an environment halts the machine with a kernel panic. Only
// one environment executes at any time. Environments still alive when Run
// returns are destroyed.
func (k *Kernel) Run(ctx context.Context) error {
	log := kfmt.ForModule("sched")

	var g errgroup.Group
	for k.halt == nil && ctx.Err() == nil {
		e := k.next()
		if e == nil {
			break
		}

		if e.status != abi.EnvDying {
			e.status = abi.EnvRunning
		}
		if !e.started {
			e.started = true
			g.Go(e.main)
		} else {
			e.resume <- struct{}{}
		}

		// A running environment observes the stop request at its next
		// syscall or memory access.
		var prev *Env
		select {
		case prev = <-k.yieldc:
		case <-ctx.Done():
			k.stopping.Store(true)
			prev = <-k.yieldc
		}
		if prev.status == abi.EnvRunning {
			prev.status = abi.EnvRunnable
		}
	}

	k.stopping.Store(true)
	k.shutdown()

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.WithError(err).Warn("scheduler stopped")
	} else {
		log.Debug("no runnable environments")
	}
	return err
}

// next picks the environment to run after the one that ran last. Dying
// environments are picked so that they can unwind.
func (k *Kernel) next() *Env {
	k.lock.Acquire()
	defer k.lock.Release()

	for i := 1; i <= len(k.envs); i++ {
		slot := (k.lastRun + i) % len(k.envs)
		e := k.envs[slot]
		if e == nil {
			continue
		}
		if e.status == abi.EnvRunnable || (e.status == abi.EnvDying && e.started) {
			k.lastRun = slot
			return e
		}
	}
	return nil
}

// shutdown destroys every remaining environment. Environments that have
// started are resumed once so that their goroutines unwind.
func (k *Kernel) shutdown() {
	k.lock.Acquire()
	remaining := make([]*Env, 0, len(k.envs))
	for _, e := range k.envs {
		if e != nil {
			remaining = append(remaining, e)
		}
	}
	k.lock.Release()

	for _, e := range remaining {
		e.killed = true
		if !e.started {
			k.exit(e, ErrKilled)
			continue
		}
		e.resume <- struct{}{}
		<-k.yieldc
	}
}

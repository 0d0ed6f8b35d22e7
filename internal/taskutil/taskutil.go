// Package taskutil is the uniform way the rest of the core launches
// background work: every spawned goroutine gets a completion callback
// that distinguishes cancellation (silent) from any other error
// (logged), mirroring the teacher's process.Go/eventlog pairing.
package taskutil

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bitswap/taskutil")

// Go runs fn in its own goroutine and reports its outcome through the
// same callback contract every core component relies on: a context
// cancellation or a returned context.Canceled is swallowed, anything
// else is logged. name identifies the task in log lines.
func Go(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			Done(name, err)
		}
	}()
}

// Done applies the standard cancellation/error split to a task's
// terminal error. Call it directly from a goroutine that already has
// its own loop structure (e.g. one guarded by a select on ctx.Done()).
func Done(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Debugf("%s: cancelled", name)
		return
	}
	log.Errorf("%s: %s", name, err)
}

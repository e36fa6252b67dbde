// Package syncx provides the mutex types the kernel uses to guard the
// handful of structures interrupt producers and the scheduler thread
// touch concurrently (spec.md §5: isr_mutex, the transport mutex).
//
// It mirrors the teacher's tmsync.RWMutex (imported as "tmsync" in
// mempool/reactor.go): a thin alias over github.com/sasha-s/go-deadlock
// so a hang caused by a lock ordering bug between an ISR-simulating
// goroutine and the scheduler thread shows up as a stack trace in tests
// instead of a silent deadlock.
package syncx

import (
	"github.com/sasha-s/go-deadlock"
)

// Mutex guards isr_mutex-equivalent state: mailbox slots and the
// task_handler field written during the mailbox post path (spec.md §4.2,
// §5).
type Mutex struct {
	deadlock.Mutex
}

// RWMutex guards the MCU registry's peer map (spec.md §4.6), letting
// concurrent route lookups proceed while writes (peer discovery,
// re-homing) take the exclusive lock. The registry's transport mutex is
// a Mutex.
type RWMutex struct {
	deadlock.RWMutex
}

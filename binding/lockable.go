package qtbind

import "sync"

// processLock hands exclusive access back and forth between the goroutine
// running Process and whoever holds the lock. Lock blocks until the processing
// goroutine is idle and parked; Unlock releases it.
type processLock struct {
	grant chan chan struct{}
	held  chan struct{}
}

func (l *processLock) Lock() {
	release := <-l.grant
	l.held = release
}

func (l *processLock) Unlock() {
	release := l.held
	l.held = nil
	close(release)
}

// RunLockable runs the connection's processing loop in its own goroutine. The
// returned sync.Locker excludes Process: while it is held, no message is
// handled and no object is touched by the connection, so the holder may
// modify objects, emit signals and make calls into the host.
//
// The channel receives the error that ended the loop and is then closed.
func (c *Connection) RunLockable() (sync.Locker, <-chan error) {
	lock := &processLock{grant: make(chan chan struct{})}
	errs := make(chan error, 1)

	c.ensureHandler()
	go func() {
		defer close(errs)
		for {
			release := make(chan struct{})
			select {
			case _, open := <-c.processSignal:
				if !open {
					errs <- c.err
					return
				}
				if err := c.Process(); err != nil {
					errs <- err
					return
				}
			case lock.grant <- release:
				<-release
			}
		}
	}()
	return lock, errs
}

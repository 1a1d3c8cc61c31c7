package knvram

import "sync"

// lockMutex acquires mu, or fails with ErrWouldBlock when nonblock is set and
// mu is contended.
func lockMutex(mu *sync.Mutex, nonblock bool) error {
	if !nonblock {
		mu.Lock()
		return nil
	}
	if !mu.TryLock() {
		return ErrWouldBlock
	}
	return nil
}

func readLock(mu *sync.RWMutex, nonblock bool) error {
	if !nonblock {
		mu.RLock()
		return nil
	}
	if !mu.TryRLock() {
		return ErrWouldBlock
	}
	return nil
}

func writeLock(mu *sync.RWMutex, nonblock bool) error {
	if !nonblock {
		mu.Lock()
		return nil
	}
	if !mu.TryLock() {
		return ErrWouldBlock
	}
	return nil
}

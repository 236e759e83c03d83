/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package synclock serializes sync runs. At most one run may execute at a
// time, across goroutines and across processes sharing the lock file.
// Acquisition never blocks: a contended lock is reported immediately so the
// caller can coalesce the trigger instead of queueing it.
package synclock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
)

// ErrContended is returned when another sync run already holds the lock.
// Contention is an expected condition, not a failure.
var ErrContended = errors.New("sync already in progress")

// Lock is the global sync lock. The file lock excludes other processes;
// the mutex excludes other goroutines in this one.
type Lock struct {
	path string
	mu   sync.Mutex
}

// New creates a Lock over the given lock file path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock or fails immediately with ErrContended. On success
// the returned release function must be called exactly once, typically via
// defer.
func (l *Lock) Acquire() (release func(), err error) {
	if !l.mu.TryLock() {
		return nil, ErrContended
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("opening lock file %s: %w", l.path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		l.mu.Unlock()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrContended
		}
		return nil, fmt.Errorf("locking %s: %w", l.path, err)
	}

	// Record the holder for operators inspecting a stuck lock.
	_ = file.Truncate(0)
	_, _ = fmt.Fprintf(file, "%d\n", os.Getpid())

	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		l.mu.Unlock()
	}, nil
}

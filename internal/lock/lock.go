package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("resource lock not acquired")

// Locker serializes mutating operations per resource key. Availability
// operations lock per doctor, lifecycle transitions per appointment, dispatch
// per ambulance or emergency. Independent keys proceed in parallel.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DoctorKey builds the lock key guarding one doctor's busy schedule.
func DoctorKey(id uuid.UUID) string { return fmt.Sprintf("lock:doctor:%s", id) }

// AppointmentKey builds the lock key guarding one appointment's lifecycle.
func AppointmentKey(id uuid.UUID) string { return fmt.Sprintf("lock:appointment:%s", id) }

// EmergencyKey builds the lock key guarding one emergency request.
func EmergencyKey(id uuid.UUID) string { return fmt.Sprintf("lock:emergency:%s", id) }

// memoryLocker is a process-local Locker. It backs tests and single-node
// deployments; multi-node deployments use the Redis locker.
type memoryLocker struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// NewMemoryLocker returns a Locker that serializes within a single process.
func NewMemoryLocker() Locker {
	return &memoryLocker{keys: make(map[string]*sync.Mutex)}
}

func (l *memoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

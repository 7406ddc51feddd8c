package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/carzbazzar/api/internal/model"
)

// AwaitTaskSettled blocks until the task reaches uploaded or failed. It
// returns at once for a task that is already settled and fails with
// ErrTimeout when nothing settles it in time. Any number of callers may
// wait on the same task.
func (m *Manager) AwaitTaskSettled(ctx context.Context, taskID string, timeout time.Duration) (model.UploadTask, error) {
	if timeout <= 0 {
		timeout = m.awaitTimeout
	}

	// Register before reading the status so a transition in between is not missed.
	ch := m.addWaiter(taskID)

	task, ok := m.state.Task(taskID)
	if !ok {
		m.removeWaiter(taskID, ch)
		return model.UploadTask{}, ErrTaskNotFound
	}
	if task.Status.Terminal() {
		m.removeWaiter(taskID, ch)
		if task.Status == model.TaskStatusFailed {
			return task, failedError(task)
		}
		return task, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		if t, ok := m.state.Task(taskID); ok {
			task = t
		}
		return task, err
	case <-timer.C:
		m.removeWaiter(taskID, ch)
		if t, ok := m.state.Task(taskID); ok {
			task = t
		}
		return task, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		m.removeWaiter(taskID, ch)
		return task, ctx.Err()
	}
}

func failedError(task model.UploadTask) error {
	if task.LastError == "" {
		return ErrUploadFailed
	}
	return fmt.Errorf("%w: %s", ErrUploadFailed, task.LastError)
}

func (m *Manager) addWaiter(taskID string) chan error {
	ch := make(chan error, 1)
	m.waitMu.Lock()
	m.waiters[taskID] = append(m.waiters[taskID], ch)
	m.waitMu.Unlock()
	return ch
}

func (m *Manager) removeWaiter(taskID string, ch chan error) {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()

	list := m.waiters[taskID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.waiters, taskID)
		return
	}
	m.waiters[taskID] = list
}

// settle wakes every waiter of a task; err is nil when the upload succeeded
func (m *Manager) settle(taskID string, err error) {
	m.waitMu.Lock()
	list := m.waiters[taskID]
	delete(m.waiters, taskID)
	m.waitMu.Unlock()

	for _, ch := range list {
		ch <- err
	}
}

// Waiting reports how many callers are waiting on a task
func (m *Manager) Waiting(taskID string) int {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	return len(m.waiters[taskID])
}

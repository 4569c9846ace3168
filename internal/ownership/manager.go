package ownership

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/flanksource/commons/logger"
	"gorm.io/gorm"

	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/models"
)

// Role is the outcome of an Acquire attempt. Exactly one process per
// database holds RoleOwner and runs the watcher; everyone else reads.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleReader Role = "reader"
)

// StaleAfter is how old a heartbeat may be before the owner row is considered
// abandoned and taken over.
const StaleAfter = 90 * time.Second

// Manager implements leader election over the watcher_owner singleton row.
// The election needs no shared memory or lock files: the database's
// immediate-write transaction serializes concurrent acquires, so two
// processes can never both see an empty or stale row and claim it.
type Manager struct {
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Acquire attempts to become the watcher owner for pid. An absent row is
// claimed outright. A present row yields RoleReader while its process is
// alive and its heartbeat fresh; otherwise the row is overwritten and the
// caller becomes the owner.
func (m *Manager) Acquire(pid int) (Role, error) {
	role := RoleReader
	err := m.store.DB().Transaction(func(tx *gorm.DB) error {
		var rows []models.WatcherOwner
		if err := tx.Where("id = 1").Limit(1).Find(&rows).Error; err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		if len(rows) == 0 {
			role = RoleOwner
			return tx.Create(&models.WatcherOwner{
				ID:          1,
				PID:         pid,
				StartedAt:   now,
				HeartbeatAt: now,
			}).Error
		}

		owner := rows[0]
		age := time.Duration(now-owner.HeartbeatAt) * time.Millisecond
		if isProcessAlive(owner.PID) && age <= StaleAfter {
			role = RoleReader
			return nil
		}

		logger.Infof("taking over watcher ownership from pid %d (heartbeat %s old)", owner.PID, age)
		role = RoleOwner
		return tx.Exec(
			"INSERT OR REPLACE INTO watcher_owner (id, pid, started_at, heartbeat_at) VALUES (1, ?, ?, ?)",
			pid, now, now,
		).Error
	})
	if err != nil {
		return RoleReader, models.NewStoreError("acquire ownership", err)
	}
	return role, nil
}

// Heartbeat refreshes the owner row's liveness timestamp. It is a no-op when
// pid is no longer the registered owner.
func (m *Manager) Heartbeat(pid int) error {
	err := m.store.DB().Exec(
		"UPDATE watcher_owner SET heartbeat_at = ? WHERE id = 1 AND pid = ?",
		time.Now().UnixMilli(), pid,
	).Error
	if err != nil {
		return models.NewStoreError("heartbeat", err)
	}
	return nil
}

// Release deletes the owner row if pid still holds it. A no-op when another
// owner has already taken over.
func (m *Manager) Release(pid int) error {
	err := m.store.DB().Exec(
		"DELETE FROM watcher_owner WHERE id = 1 AND pid = ?", pid,
	).Error
	if err != nil {
		return models.NewStoreError("release ownership", err)
	}
	return nil
}

// Current returns the registered owner row, or nil when none exists.
func (m *Manager) Current() (*models.WatcherOwner, error) {
	var rows []models.WatcherOwner
	if err := m.store.DB().Where("id = 1").Limit(1).Find(&rows).Error; err != nil {
		return nil, models.NewStoreError("read ownership", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// isProcessAlive probes pid with signal zero. "no such process" means dead;
// "permission denied" means alive under another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

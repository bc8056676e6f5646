package observability

import (
	"sync"
	"time"
)

// Role is the phase the engine is currently in.
type Role string

const (
	RoleIdle         Role = "IDLE"
	RoleRouting      Role = "ROUTING"
	RolePlanning     Role = "PLANNING"
	RoleExecuting    Role = "EXECUTING"
	RoleSynthesizing Role = "SYNTHESIZING"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentRole   Role
	ActiveTask    string
	ActiveTurns   int
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// TurnStarted and TurnFinished count turns in flight across chats.
func TurnStarted() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.ActiveTurns++
}

func TurnFinished() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if globalStatus.ActiveTurns > 0 {
		globalStatus.ActiveTurns--
	}
	if globalStatus.ActiveTurns == 0 {
		globalStatus.CurrentRole = RoleIdle
		globalStatus.ActiveTask = ""
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.LastHeartbeat
}

func ActiveTurns() int {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.ActiveTurns
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

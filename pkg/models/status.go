package models

// Task statuses used throughout the codebase. A completed task is terminal;
// a blocked task needs operator attention and is never auto-claimed.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionAborted   = "aborted"
)

// Audit operations recorded by the task pool.
const (
	OpCreate   = "create"
	OpClaim    = "claim"
	OpComplete = "complete"
	OpRelease  = "release"
	OpBlock    = "block"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTaskListLimit       = 1000
	DefaultSSEChannelBuffer    = 256
	DefaultWorkerCount         = 4
)

// Session lifecycle defaults.
const (
	DefaultStaleSessionMin  = 30 // minutes without a heartbeat before recovery
	DefaultTeardownGraceSec = 30
)

package models

// LoopState is the lifecycle state of a session's generation loop.
type LoopState string

const (
	LoopIdle         LoopState = "IDLE"
	LoopRunning      LoopState = "RUNNING"
	LoopPaused       LoopState = "PAUSED"
	LoopErrorBackoff LoopState = "ERROR_BACKOFF"
	LoopStopped      LoopState = "STOPPED"
)

package types

import "time"

// Status is a snapshot of a debugger run
type Status struct {
	SessionID   string      `json:"session_id,omitempty"`
	State       string      `json:"state"`
	Outcome     string      `json:"outcome"`
	WorkerPID   int         `json:"worker_pid,omitempty"`
	WorkerAlive bool        `json:"worker_alive"`
	Exit        *ExitStatus `json:"exit,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	Instruments Instruments `json:"instruments,omitempty"`
	HitCount    int         `json:"hit_count"`
	Artifact    string      `json:"artifact,omitempty"`
	Error       string      `json:"error,omitempty"`
}

package eventbus

import "time"

// Event types published by seobot components.
const (
	TypeScheduleReconciled = "schedule.reconciled"
	TypeScheduleRun        = "schedule.run"
	TypeScheduleSkipped    = "schedule.skipped"
	TypeCheckFinished      = "check.finished"
	TypeCommandHandled     = "command.handled"
	TypeWatchDegraded      = "watch.degraded"
)

type ReconcileData struct {
	Generation uint64        `json:"generation"`
	Registered int           `json:"registered"`
	Skipped    int           `json:"skipped"`
	Took       time.Duration `json:"took"`
}

type RunData struct {
	ScheduleID  string        `json:"schedule_id"`
	Target      string        `json:"target"`
	Destination string        `json:"destination"`
	Started     time.Time     `json:"started"`
	Took        time.Duration `json:"took"`
	Error       string        `json:"error,omitempty"`
}

// CheckData describes one finished report. Kind is "ok", "provider" or "sink".
type CheckData struct {
	Target    string        `json:"target"`
	Scheduled bool          `json:"scheduled"`
	Broken    int           `json:"broken"`
	Took      time.Duration `json:"took"`
	Kind      string        `json:"kind"`
	Error     string        `json:"error,omitempty"`
}

type CommandData struct {
	Platform string `json:"platform"`
	Command  string `json:"command"`
	OK       bool   `json:"ok"`
}

type WatchData struct {
	Path   string `json:"path"`
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

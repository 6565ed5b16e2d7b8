package event

// EventType represents the type of event.
type EventType string

const (
	WorkspaceInitialized EventType = "workspace.initialized"
	ModeChanged          EventType = "mode.changed"
	SessionStateChanged  EventType = "session.state"
	CommandStarted       EventType = "command.started"
	CommandCompleted     EventType = "command.completed"
	JobStarted           EventType = "job.started"
	JobFinished          EventType = "job.finished"
	FileWritten          EventType = "file.written"
	FileEdited           EventType = "file.edited"
	CheckpointSaved      EventType = "checkpoint.saved"
	PermissionDenied     EventType = "permission.denied"
)

// WorkspaceInitializedData is the data for workspace.initialized events.
type WorkspaceInitializedData struct {
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Mode      string `json:"mode"`
}

// ModeChangedData is the data for mode.changed events.
type ModeChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SessionStateData is the data for session.state events.
type SessionStateData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CommandData is the data for command.started and command.completed events.
type CommandData struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// JobData is the data for job.started and job.finished events.
type JobData struct {
	ID       string `json:"id"`
	Command  string `json:"command"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// FileEditedData is the data for file.edited and file.written events.
type FileEditedData struct {
	File      string `json:"file"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// CheckpointSavedData is the data for checkpoint.saved events.
type CheckpointSavedData struct {
	ID    string `json:"id"`
	Files int    `json:"files"`
}

// PermissionDeniedData is the data for permission.denied events.
type PermissionDeniedData struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

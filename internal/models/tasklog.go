package models

// TaskLog is an append-only activity record for a task. Logs are never
// edited after creation, so merging them degenerates to set union by id.
type TaskLog struct {
	SyncMeta
	TaskID string
	Action string
	Detail string
}

// NewTaskLog creates a locally-originated log entry for taskID.
func NewTaskLog(accountID, deviceID, taskID, action, detail string) *TaskLog {
	return &TaskLog{
		SyncMeta: newMeta(accountID, deviceID),
		TaskID:   taskID,
		Action:   action,
		Detail:   detail,
	}
}

package models

// TaskStatus classifies a task's completion state.
type TaskStatus string

const (
	TaskStatusOpen TaskStatus = "open"
	TaskStatusDone TaskStatus = "done"
)

// Task is a user task. Entity-specific fields ride on top of SyncMeta.
type Task struct {
	SyncMeta
	Title    string
	Notes    string
	Status   TaskStatus
	Priority int
	// DueDate is a calendar date in YYYY-MM-DD form, or empty.
	DueDate string
}

// NewTask creates a locally-originated task owned by accountID.
func NewTask(accountID, deviceID, title string) *Task {
	return &Task{
		SyncMeta: newMeta(accountID, deviceID),
		Title:    title,
		Status:   TaskStatusOpen,
	}
}

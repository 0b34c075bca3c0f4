package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mlevkov/tasksync/internal/models"
)

// Wire rows mirror the remote table shapes as row_to_json renders them in
// change notifications. Timestamps arrive with the backend's full
// precision and are truncated to the millisecond grid records are stored
// with, so equality checks against local rows stay exact.

type syncColumns struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	DeviceID    *string    `json:"device_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at"`
	SyncVersion int64      `json:"sync_version"`
}

func (c syncColumns) meta() models.SyncMeta {
	m := models.SyncMeta{
		ID:          c.ID,
		AccountID:   c.AccountID,
		DeviceID:    c.DeviceID,
		CreatedAt:   c.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:   c.UpdatedAt.UTC().Truncate(time.Millisecond),
		SyncVersion: c.SyncVersion,
	}
	if c.DeletedAt != nil {
		at := c.DeletedAt.UTC().Truncate(time.Millisecond)
		m.DeletedAt = &at
	}
	return m
}

type taskRow struct {
	syncColumns
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	DueDate  string `json:"due_date"`
}

func decodeTask(raw json.RawMessage) (*models.Task, error) {
	var row taskRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode task row: %w", err)
	}
	return &models.Task{
		SyncMeta: row.meta(),
		Title:    row.Title,
		Notes:    row.Notes,
		Status:   models.TaskStatus(row.Status),
		Priority: row.Priority,
		DueDate:  row.DueDate,
	}, nil
}

type selectionRow struct {
	syncColumns
	Day      string `json:"day"`
	TaskID   string `json:"task_id"`
	Position int    `json:"position"`
}

func decodeSelection(raw json.RawMessage) (*models.DailySelection, error) {
	var row selectionRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode selection row: %w", err)
	}
	return &models.DailySelection{
		SyncMeta: row.meta(),
		Day:      row.Day,
		TaskID:   row.TaskID,
		Position: row.Position,
	}, nil
}

type logRow struct {
	syncColumns
	TaskID string `json:"task_id"`
	Action string `json:"action"`
	Detail string `json:"detail"`
}

func decodeLog(raw json.RawMessage) (*models.TaskLog, error) {
	var row logRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode log row: %w", err)
	}
	return &models.TaskLog{
		SyncMeta: row.meta(),
		TaskID:   row.TaskID,
		Action:   row.Action,
		Detail:   row.Detail,
	}, nil
}

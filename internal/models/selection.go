package models

// DailySelection marks a task as selected for a given day. The logical
// identity of a selection is the composite key (Day, TaskID): two offline
// devices can create the same logical selection under different ids, and
// the sync merge collapses such duplicates.
type DailySelection struct {
	SyncMeta
	// Day is a calendar date in YYYY-MM-DD form.
	Day      string
	TaskID   string
	Position int
}

// NewDailySelection creates a locally-originated selection of taskID for day.
func NewDailySelection(accountID, deviceID, day, taskID string) *DailySelection {
	return &DailySelection{
		SyncMeta: newMeta(accountID, deviceID),
		Day:      day,
		TaskID:   taskID,
	}
}

// NaturalKey returns the composite duplicate-detection key.
func (s *DailySelection) NaturalKey() string {
	return s.Day + "|" + s.TaskID
}

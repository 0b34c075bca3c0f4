package common

// Entity names of the synchronized record types. They double as remote
// table names and as change-channel name components.
const (
	EntityTasks           = "tasks"
	EntityDailySelections = "daily_selections"
	EntityTaskLogs        = "task_logs"
)

// Entities lists all synchronized entity types in sync order.
var Entities = []string{EntityTasks, EntityDailySelections, EntityTaskLogs}

// Metadata keys used in the local sync_metadata table.
const (
	MetaKeyLastSyncAt  = "last_sync_at"
	MetaKeySyncToken   = "sync_token"
	MetaKeyAccessToken = "access_token"
)

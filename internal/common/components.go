package common

const (
	ComponentRunner        = "runner"
	ComponentArchiveSource = "archive-source"
	ComponentHotSource     = "hot-source"
	ComponentChangeTracker = "change-tracker"
	ComponentRollback      = "rollback"
	ComponentStatusStore   = "status-store"
)

var AllComponents = map[string]struct{}{
	ComponentRunner:        {},
	ComponentArchiveSource: {},
	ComponentHotSource:     {},
	ComponentChangeTracker: {},
	ComponentRollback:      {},
	ComponentStatusStore:   {},
}

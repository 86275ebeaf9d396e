package common

const (
	ComponentRunner        = "runner"
	ComponentStream        = "stream"
	ComponentCursorTracker = "cursor-tracker"
	ComponentEngine        = "engine"
	ComponentStorage       = "storage"
	ComponentMaintenance   = "maintenance"
	ComponentNotifier      = "notifier"
	ComponentAPI           = "api"
	ComponentLock          = "lock"
	ComponentMetrics       = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentRunner:        {},
	ComponentStream:        {},
	ComponentCursorTracker: {},
	ComponentEngine:        {},
	ComponentStorage:       {},
	ComponentMaintenance:   {},
	ComponentNotifier:      {},
	ComponentAPI:           {},
	ComponentLock:          {},
	ComponentMetrics:       {},
}

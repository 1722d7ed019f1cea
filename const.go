package match

const (
	// EngineVersion is the current version of the matching service
	EngineVersion = "v1.0.0"

	// DefaultSnapshotDepth is used when a snapshot is requested with depth <= 0
	DefaultSnapshotDepth = 5
)

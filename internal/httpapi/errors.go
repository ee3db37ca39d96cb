package httpapi

const (
	ErrInvalidQueue  = "invalid queue"
	ErrInvalidStatus = "invalid status"
	ErrDependency    = "dependency error"
	ErrNoProfile     = "clinic profile not configured"
)

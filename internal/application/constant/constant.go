package constant

// Shared slog attribute keys.
const (
	Error     = "error"
	UserID    = "user_id"
	UserName  = "user_name"
	CallingID = "calling_id"
	EventType = "event_type"
	Step      = "step"
)

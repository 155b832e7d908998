package risk

import "errors"

// Gate rejections. Surfaced as sentinel errors so callers can log the reason
// and refuse to submit; none of these is a collaborator failure.
var (
	ErrKillSwitchActive   = errors.New("kill switch active")
	ErrExecutionPending   = errors.New("execution already pending")
	ErrPositionOpen       = errors.New("existing positions active")
	ErrDailyLossBreached  = errors.New("daily loss limit breached")
	ErrInsufficientMargin = errors.New("insufficient margin")
)

package prtrigger

import (
	"time"

	"go.uber.org/zap"
)

type syncStat struct {
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Created   uint
	Removed   uint
	Builds    uint
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("pr_sync.seen", s.Seen),
		zap.Uint("pr_sync.created", s.Created),
		zap.Uint("pr_sync.removed", s.Removed),
		zap.Uint("pr_sync.builds_triggered", s.Builds),
	}
}

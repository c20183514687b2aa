package mqtt

import (
	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/logic"
)

// Observer forwards engine updates to a Publisher: every event goes to
// Topic, and phase transitions and resets refresh the retained state.
type Observer struct {
	pub    Publisher
	logger *zap.Logger
}

// NewObserver creates an engine observer publishing through pub.
func NewObserver(pub Publisher, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{pub: pub, logger: logger}
}

// Observe implements engine.Observer. Publish failures are logged only.
func (o *Observer) Observe(u engine.Update) {
	for _, ev := range u.Events {
		o.logger.Debug("event",
			zap.String("type", string(ev.Type)),
			zap.String("phase", string(ev.Phase)),
			zap.Float64("level", ev.Level))

		if err := o.pub.Publish(u.Session, ev); err != nil {
			o.logger.Warn("publish error", zap.String("type", string(ev.Type)), zap.Error(err))
		}

		if ev.Type == logic.EventPhaseTransition || ev.Type == logic.EventReset {
			if err := o.pub.PublishState(u.Session, u.State, ev.Timestamp); err != nil {
				o.logger.Warn("state publish error", zap.Error(err))
			}
		}
	}
}

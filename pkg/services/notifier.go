package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
)

// Notifier consumes domain events and dispatches member notifications.
// Delivery is best-effort: the bus drops events for slow consumers rather
// than stalling the publishers, and a failed dispatch is only logged.
type Notifier struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewNotifier(bus *events.Bus, logger *zap.Logger) *Notifier {
	return &Notifier{
		bus:    bus,
		logger: logger.Named("notifier"),
	}
}

// Run subscribes to the bus and processes events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	ch, cancel := n.bus.Subscribe(256)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				n.dispatch(event)
			}
		}
	}()
}

func (n *Notifier) dispatch(event events.Event) {
	// Push delivery (email, in-app) hangs off here; for now the dispatch
	// trail is the log.
	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.Int("recipients", len(event.UserIDs)),
		zap.Time("occurred_at", event.OccurredAt),
	}
	for key, value := range event.Payload {
		fields = append(fields, zap.Any(key, value))
	}
	n.logger.Info("Dispatching notification", fields...)
}

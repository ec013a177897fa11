package consumer

import (
	"context"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/eventbus"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging"
)

// NotificationConsumerGaveUp is published on the in-process bus when the
// consumer abandons a message after exhausting its retry policy.
const NotificationConsumerGaveUp = "consumer.gave_up"

// FailureHandler records the context of a terminal consumer failure and
// raises an operator notification. It must never propagate an error of its
// own; losing visibility into the original failure is worse than a missed
// failure row.
type FailureHandler struct {
	repo   repository.FailureRepository
	bus    *eventbus.Bus
	logger *logger.Logger
}

func NewFailureHandler(repo repository.FailureRepository, bus *eventbus.Bus, logger *logger.Logger) *FailureHandler {
	return &FailureHandler{repo: repo, bus: bus, logger: logger}
}

func (h *FailureHandler) Handle(ctx context.Context, msg *messaging.Message, cause error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(nil, "failure handler panicked", "panic", r)
		}
	}()

	failure := &model.EventFailure{
		Topic:        msg.Topic,
		EventType:    msg.EventType,
		Payload:      msg.Payload,
		ErrorMessage: cause.Error(),
	}
	if err := h.repo.Insert(ctx, failure); err != nil {
		h.logger.Error(err, "failed to persist event failure",
			"topic", msg.Topic, "event_type", msg.EventType)
	}

	h.logger.Error(cause, "giving up on event",
		"topic", msg.Topic, "event_type", msg.EventType, "message_id", msg.ID)
	h.bus.Publish(ctx, NotificationConsumerGaveUp, failure)
}

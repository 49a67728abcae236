package github

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

// Event is a received and parsed github webhook notification.
type Event struct {
	DeliveryID string
	// Type is the value of the X-GitHub-Event header, e.g. "pull_request".
	Type string
	// JSON is the raw payload, form encoded payloads are already unwrapped.
	JSON []byte
	// Event is the payload parsed by github.ParseWebHook, e.g.
	// *github.PullRequestEvent.
	Event any
}

func (e *Event) String() string {
	return fmt.Sprintf("%s (deliveryID: %s)", e.Type, e.DeliveryID)
}

func (e *Event) LogFields() []zap.Field {
	return eventLogFields(e.DeliveryID, e.Type)
}

func eventLogFields(deliveryID, hookType string) []zap.Field {
	return []zap.Field{
		logfields.EventProvider("github"),
		zap.String("github.delivery_id", deliveryID),
		zap.String("github.webhook_type", hookType),
	}
}

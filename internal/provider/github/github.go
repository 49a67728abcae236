// Package github receives github webhook events via HTTP.
package github

import (
	"context"
	"net/http"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const loggerName = "github-event-provider"

// EventHandler processes received webhook events.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *Event)
}

// Provider receives github-webhook http-requests at a http-server handler,
// validates and parses them and passes them synchronously to an
// EventHandler.
//
// Requests that contain no payload or a payload that can not be parsed are
// logged and answered with http status 200, github does not redeliver them.
// Requests with an invalid signature are answered with 400.
type Provider struct {
	logging       *zap.Logger
	webhookSecret []byte
	handler       EventHandler
}

type option func(*Provider)

// WithPayloadSecret enables validating the signature of received requests.
func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(handler EventHandler, opts ...option) *Provider {
	p := Provider{
		handler: handler,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logging == nil {
		p.logging = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logger := p.logging.With(eventLogFields(deliveryID, hookType)...)

	logger.Debug("received a http request", logfields.Event("github_event_received"))

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	if len(payload) == 0 {
		logger.Info(
			"ignoring http request, request does not contain a payload",
			logfields.Event("github_event_payload_missing"),
		)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	event, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"ignoring http request, parsing event failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		return
	}

	p.handler.HandleEvent(req.Context(), &Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      event,
	})
}

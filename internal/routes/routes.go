// Package routes turns configured routes into dispatch registrations.
package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/dispatch"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/sender"
)

// Enqueuer accepts outbound deliveries.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Deps are the collaborators route handlers need.
type Deps struct {
	Queue       Enqueuer
	Targets     map[string]config.TargetConfig
	MaxAttempts int
	Events      events.Publisher
	Logger      *slog.Logger
}

// Register adds one registration per route to reg, in declaration order.
// Routes for receivers not in table are rejected.
func Register(reg *dispatch.Registry, table *receiver.Table, routes []config.RouteConfig, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "routes")

	for i, rc := range routes {
		if _, ok := table.Lookup(rc.Receiver); !ok {
			return fmt.Errorf("routes[%d]: unknown receiver %q", i, rc.Receiver)
		}

		h, err := handlerFor(rc, deps, logger)
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}

		err = reg.Register(rc.Receiver, dispatch.Registration{
			Name:    Name(i, rc),
			ID:      rc.ID,
			Events:  rc.Events,
			Handler: h,
		})
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	return nil
}

// Name is the handler name reported in outcomes and logs, e.g. "github/forward:ops#0".
func Name(i int, rc config.RouteConfig) string {
	action := rc.Action
	if rc.Action == config.ActionForward {
		action += ":" + rc.Target
	}
	return fmt.Sprintf("%s/%s#%d", strings.ToLower(rc.Receiver), action, i)
}

func handlerFor(rc config.RouteConfig, deps Deps, logger *slog.Logger) (dispatch.HandlerFunc, error) {
	switch rc.Action {
	case config.ActionLog, "":
		return logHandler(logger), nil
	case config.ActionRespond:
		return respondHandler(rc), nil
	case config.ActionForward:
		target, ok := deps.Targets[rc.Target]
		if !ok {
			return nil, fmt.Errorf("forward to unknown target %q", rc.Target)
		}
		if deps.Queue == nil {
			return nil, fmt.Errorf("forward to %q requires the sender queue", rc.Target)
		}
		maxAttempts := target.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = deps.MaxAttempts
		}
		return forwardHandler(rc.Target, maxAttempts, deps), nil
	default:
		return nil, fmt.Errorf("unknown action %q", rc.Action)
	}
}

func logHandler(logger *slog.Logger) dispatch.HandlerFunc {
	return func(ctx context.Context, hc *dispatch.Context) error {
		req := hc.Request
		logger.Info("webhook event",
			"receiver", req.Receiver,
			"receiver_id", req.ID,
			"events", strings.Join(hc.Events, ","),
			"body_size", len(req.Body))
		return nil
	}
}

func respondHandler(rc config.RouteConfig) dispatch.HandlerFunc {
	contentType := rc.ContentType
	if contentType == "" && rc.Body != "" {
		contentType = "text/plain; charset=utf-8"
	}
	body := []byte(rc.Body)
	return func(ctx context.Context, hc *dispatch.Context) error {
		hc.Respond(rc.Status, contentType, body)
		return nil
	}
}

func forwardHandler(target string, maxAttempts int, deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, hc *dispatch.Context) error {
		p := sender.NewPayload(Properties(hc.Request), hc.Events...)
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		id, err := deps.Queue.Enqueue(ctx, queue.EnqueueRequest{
			Target:      target,
			ReceiptID:   hc.Request.ReceiptID,
			Payload:     payload,
			MaxAttempts: maxAttempts,
		})
		if err != nil {
			return fmt.Errorf("enqueue delivery to %s: %w", target, err)
		}

		if deps.Events != nil {
			deps.Events.Publish(events.DeliveryEnqueued, map[string]any{
				"delivery_id": id,
				"target":      target,
				"receipt_id":  hc.Request.ReceiptID,
				"receiver":    hc.Request.Receiver,
				"events":      hc.Events,
			})
		}
		return nil
	}
}

// Properties describes the inbound request for an outbound payload. JSON bodies
// are embedded as-is; other bodies are sent as a string.
func Properties(req *receiver.Request) map[string]any {
	props := map[string]any{
		"Receiver":  req.Receiver,
		"ReceiptId": req.ReceiptID,
	}
	if req.ID != "" {
		props["ReceiverId"] = req.ID
	}
	if len(req.Body) > 0 {
		if json.Valid(req.Body) {
			props["Body"] = json.RawMessage(req.Body)
		} else {
			props["Body"] = string(req.Body)
		}
	}
	return props
}

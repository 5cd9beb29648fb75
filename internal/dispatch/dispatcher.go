package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/hookline/internal/log"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/verify"
)

// Stage is a point in the request state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageVerifying   Stage = "verifying"
	StageExtracting  Stage = "extracting"
	StageDispatching Stage = "dispatching"
	StageRejected    Stage = "rejected"
	StageCompleted   Stage = "completed"
	StageFaulted     Stage = "faulted"
)

// Kind classifies an Outcome.
type Kind int

const (
	Completed Kind = iota
	Rejected
	NotFound
	Faulted
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Response is what a handler wants sent back to the caller.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Context is passed to every handler for one request.
type Context struct {
	Request *receiver.Request
	// Events are the extracted event names.
	Events []string
	// Response, when set by a handler, is returned and later handlers are skipped.
	Response *Response
}

// Respond sets a response with the given status, content type and body.
func (c *Context) Respond(status int, contentType string, body []byte) {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	c.Response = &Response{Status: status, Header: h, Body: body}
}

// HandlerFault wraps an error returned (or a panic raised) by a handler.
type HandlerFault struct {
	Handler string
	Err     error
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("handler %s: %v", f.Handler, f.Err)
}

func (f *HandlerFault) Unwrap() error { return f.Err }

// Input is everything the dispatcher needs for one request.
type Input struct {
	Request *receiver.Request
	Result  verify.Result
	// ConfigErr is a receiver configuration problem found during verification.
	ConfigErr error
	Events    []string
	// MismatchStatus is returned for SignatureMismatch (default 401).
	MismatchStatus int
}

// Outcome is the result of dispatching one request.
type Outcome struct {
	Kind Kind
	// Stage is the terminal state: rejected, completed or faulted.
	Stage Stage
	// At is the stage the request was in when it stopped.
	At     Stage
	Status int
	Header http.Header
	Body   []byte
	// Reason is a short client-safe rejection reason.
	Reason string
	// Events are the extracted event names, set once dispatching starts.
	Events []string
	// Invoked lists the handlers that ran, in order.
	Invoked []string
	Err     error
}

// Dispatcher invokes registered handlers.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Dispatcher over registry.
func New(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   log.WithComponent("dispatch"),
		tracer:   otel.Tracer("github.com/mattjoyce/hookline/internal/dispatch"),
	}
}

// Registered reports whether the receiver has any handlers.
func (d *Dispatcher) Registered(receiverName string) bool {
	return d.registry.Registered(receiverName)
}

// Reject builds a rejection outcome for a request stopped at stage.
func Reject(at Stage, status int, reason string) Outcome {
	return Outcome{Kind: Rejected, Stage: StageRejected, At: at, Status: status, Reason: reason}
}

// Unknown is the outcome for a receiver that is not configured.
func Unknown() Outcome {
	return Outcome{Kind: NotFound, Stage: StageRejected, At: StageReceived, Status: http.StatusNotFound, Reason: "unknown receiver"}
}

// Dispatch runs the matching handlers for in.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Outcome {
	req := in.Request
	logger := log.WithReceiver(d.logger, req.Receiver, req.ID)

	ctx, span := d.tracer.Start(ctx, "webhook.dispatch", trace.WithAttributes(
		attribute.String("webhook.receiver", req.Receiver),
		attribute.String("webhook.id", req.ID),
		attribute.StringSlice("webhook.events", in.Events),
	))
	defer span.End()

	out := d.dispatch(ctx, in, logger)

	span.SetAttributes(
		attribute.String("webhook.outcome", out.Kind.String()),
		attribute.Int("http.response.status_code", out.Status),
	)
	if out.Kind == Faulted {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "handler fault")
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, in Input, logger *slog.Logger) Outcome {
	req := in.Request

	if !d.registry.Registered(req.Receiver) {
		logger.Info("webhook rejected", "stage", StageRejected, "reason", "unknown receiver")
		return Unknown()
	}

	if in.ConfigErr != nil {
		log.Critical(logger, "receiver misconfigured", "stage", StageVerifying, "error", in.ConfigErr)
		return Outcome{Kind: NotFound, Stage: StageRejected, At: StageVerifying, Status: http.StatusNotFound, Reason: "unknown receiver", Err: in.ConfigErr}
	}

	if in.Result != verify.Verified {
		return d.rejectVerification(in, logger)
	}

	if len(in.Events) == 0 {
		logger.Info("webhook rejected", "stage", StageExtracting, "reason", "missing event")
		return Reject(StageExtracting, http.StatusBadRequest, "missing event")
	}

	regs := d.registry.Match(req.Receiver, req.ID, in.Events)
	hc := &Context{Request: req, Events: in.Events}
	out := Outcome{Kind: Completed, Stage: StageCompleted, At: StageDispatching, Status: http.StatusOK, Events: in.Events}

	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			fault := &HandlerFault{Handler: reg.Name, Err: err}
			logger.Warn("dispatch cancelled", "stage", StageDispatching, "handler", reg.Name, "error", err)
			return Outcome{Kind: Faulted, Stage: StageFaulted, At: StageDispatching, Status: http.StatusInternalServerError, Events: in.Events, Invoked: out.Invoked, Err: fault}
		}

		out.Invoked = append(out.Invoked, reg.Name)
		if err := invoke(ctx, reg, hc); err != nil {
			logger.Error("handler fault",
				"stage", StageFaulted,
				"handler", reg.Name,
				"events", strings.Join(in.Events, ","),
				"error", err)
			return Outcome{Kind: Faulted, Stage: StageFaulted, At: StageDispatching, Status: http.StatusInternalServerError, Events: in.Events, Invoked: out.Invoked, Err: err}
		}
		if hc.Response != nil {
			break
		}
	}

	if hc.Response != nil {
		if hc.Response.Status != 0 {
			out.Status = hc.Response.Status
		}
		out.Header = hc.Response.Header
		out.Body = hc.Response.Body
	}

	logger.Info("webhook dispatched",
		"stage", StageCompleted,
		"events", strings.Join(in.Events, ","),
		"handlers", len(out.Invoked),
		"status", out.Status)
	return out
}

func (d *Dispatcher) rejectVerification(in Input, logger *slog.Logger) Outcome {
	switch in.Result {
	case verify.SecretNotConfigured:
		log.Critical(logger, "receiver secret not configured", "stage", StageVerifying)
		return Outcome{Kind: NotFound, Stage: StageRejected, At: StageVerifying, Status: http.StatusNotFound, Reason: "unknown receiver"}
	case verify.MissingHeader:
		logger.Warn("webhook rejected", "stage", StageVerifying, "reason", in.Result.String())
		return Reject(StageVerifying, http.StatusBadRequest, "missing signature")
	case verify.BadEncoding:
		logger.Warn("webhook rejected", "stage", StageVerifying, "reason", in.Result.String())
		return Reject(StageVerifying, http.StatusBadRequest, "malformed signature")
	default:
		status := in.MismatchStatus
		if status == 0 {
			status = http.StatusUnauthorized
		}
		logger.Warn("webhook rejected", "stage", StageVerifying, "reason", in.Result.String())
		return Reject(StageVerifying, status, "signature mismatch")
	}
}

func invoke(ctx context.Context, reg Registration, hc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerFault{Handler: reg.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := reg.Handler(ctx, hc); err != nil {
		var fault *HandlerFault
		if errors.As(err, &fault) {
			return err
		}
		return &HandlerFault{Handler: reg.Name, Err: err}
	}
	return nil
}

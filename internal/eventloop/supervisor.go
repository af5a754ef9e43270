package eventloop

import (
	"context"
	"errors"

	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/thejerf/suture/v4"
)

var log = logger.WithPrefix("eventloop")

// Service is a supervised service with a name for the logs.
type Service interface {
	String() string
	suture.Service
}

// NewSupervisor returns a supervisor that logs its events.
func NewSupervisor(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: EventHook(),
	})
}

// EventHook logs supervisor events.
func EventHook() suture.EventHook {
	return func(ei suture.Event) {
		switch e := ei.(type) {
		case suture.EventStopTimeout:
			log.Warn("service did not stop in time", "supervisor", e.SupervisorName, "service", e.ServiceName)
		case suture.EventServicePanic:
			log.Error("service panicked", "supervisor", e.SupervisorName, "service", e.ServiceName, "panic", e.PanicMsg)
			log.Debug(e.Stacktrace)
		case suture.EventServiceTerminate:
			log.Error("service failed", "supervisor", e.SupervisorName, "service", e.ServiceName,
				"error", e.Err, "restarting", e.Restarting)
		case suture.EventBackoff:
			log.Debug("too many service failures, backing off", "supervisor", e.SupervisorName)
		case suture.EventResume:
			log.Debug("leaving backoff", "supervisor", e.SupervisorName)
		default:
			log.Warn("unknown supervisor event", "type", int(e.Type()))
		}
	}
}

// Add adds a service whose errors are never mistaken for the
// supervisor's own cancellation.
func Add(sup *suture.Supervisor, svc Service) suture.ServiceToken {
	return sup.Add(sanitized{Service: svc})
}

type sanitized struct {
	Service
}

func (s sanitized) Serve(ctx context.Context) error {
	return SanitizeError(ctx, s.Service.Serve(ctx))
}

// SanitizeError strips context errors from err unless ctx itself is
// done. Suture stops a service for good when it returns a context error.
func SanitizeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var errs []error
	if errors.Is(err, suture.ErrDoNotRestart) {
		errs = append(errs, suture.ErrDoNotRestart)
	}
	if errors.Is(err, suture.ErrTerminateSupervisorTree) {
		errs = append(errs, suture.ErrTerminateSupervisorTree)
	}
	errs = append(errs, errors.New(err.Error()))
	return errors.Join(errs...)
}

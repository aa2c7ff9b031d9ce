package actorkit

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Actor is a single-threaded unit of mapper work: Run blocks until ctx is
// cancelled or the actor fails.
type Actor interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor runs a fixed set of actors concurrently and cancels every
// sibling as soon as one returns a non-nil error, mirroring the teacher's
// worker-group-with-early-exit shape generalized with errgroup.
type Supervisor struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

// NewSupervisor creates a Supervisor bound to parent's lifetime.
func NewSupervisor(parent context.Context, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &Supervisor{group: group, ctx: ctx, cancel: cancel, log: log}
}

// Spawn starts an actor under supervision.
func (s *Supervisor) Spawn(a Actor) {
	s.group.Go(func() error {
		s.log.Info("actor starting", "actor", a.Name())
		err := a.Run(s.ctx)
		if err != nil {
			s.log.Error("actor exited with error", "actor", a.Name(), "error", err)
		} else {
			s.log.Info("actor exited", "actor", a.Name())
		}
		return err
	})
}

// Context returns the supervisor's cancellation context, passed to every
// spawned actor.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Shutdown cancels every supervised actor.
func (s *Supervisor) Shutdown() { s.cancel() }

// Wait blocks until every actor has exited, returning the first error.
func (s *Supervisor) Wait() error {
	defer s.cancel()
	return s.group.Wait()
}

// Package supervisor implements the Supervisor / Registry (C6): it owns
// the set of registered session specs and their Session Controllers,
// runs the reconciliation loop that keeps controllers and live panes in
// sync, and holds a small bounded worker pool that Dispatch runs work
// on. Generalized from the teacher's
// service/terminal.Manager (sessions map + reapIdleSessions/cleanupIdle),
// lifted from one fixed session type to an arbitrary registered spec.
package supervisor

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"yesman-claude/controller"
	"yesman-claude/eventbus"
	"yesman-claude/idgen"
	"yesman-claude/learner"
	"yesman-claude/paneio"
	"yesman-claude/promptlib"
	"yesman-claude/syncmap"
)

// ErrUnknownSession is returned by operations addressing an unregistered
// session id.
var ErrUnknownSession = errors.New("supervisor: unknown session")

// ErrAlreadyRegistered is returned when registering a session id that is
// already present, per spec.md's "at most one Session Controller per
// session id" invariant.
var ErrAlreadyRegistered = errors.New("supervisor: session already registered")

// WindowSpec describes one window to launch within a session.
type WindowSpec struct {
	Command    []string
	WorkingDir string
	Env        []string
	Rows, Cols int
}

// SessionSpec is the static, immutable-after-registration description
// from spec.md §3. ProjectID groups sessions for the learner's
// (project, session) scoping; it is this module's own addition since
// the distilled spec takes it as given context without saying where it
// comes from.
type SessionSpec struct {
	ID              string
	ProjectID       string
	Windows         []WindowSpec
	WorkingDir      string
	BeforeCommands  []string
	Encoding        string
}

// Config carries the supervisor's own timing/concurrency knobs.
type Config struct {
	ReconcileInterval time.Duration
	GraceDeadline     time.Duration
	MaxWorkers        int64
	Controller        controller.Config

	// ShellOverride/ShellEnv fall through to paneio.SessionLaunchSpec for
	// any session whose window doesn't name an explicit command.
	ShellOverride string
	ShellEnv      []string
}

// DefaultConfig returns spec.md §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Second,
		GraceDeadline:     3 * time.Second,
		MaxWorkers:        maxWorkers(),
	}
}

func maxWorkers() int64 {
	n := int64(runtime.NumCPU() * 2)
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

type registration struct {
	spec       SessionSpec
	pane       paneio.PaneRef
	controller *controller.Controller
	cancel     context.CancelFunc
}

// Supervisor owns every registered session spec and its controller.
type Supervisor struct {
	backend   paneio.Backend
	library   *promptlib.Library
	responder *learner.Responder
	bus       *eventbus.Bus
	logger    *zap.Logger
	cfg       Config

	registry syncmap.Map[string, *registration]
	sem      *semaphore.Weighted

	wg        sync.WaitGroup
	stopOnce  sync.Once
	reconcile chan struct{}
	done      chan struct{}
}

// New builds a Supervisor. Call Run to start the reconciliation loop.
func New(backend paneio.Backend, library *promptlib.Library, responder *learner.Responder, bus *eventbus.Bus, cfg Config, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Second
	}
	if cfg.GraceDeadline <= 0 {
		cfg.GraceDeadline = 3 * time.Second
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = maxWorkers()
	}
	return &Supervisor{
		backend:   backend,
		library:   library,
		responder: responder,
		bus:       bus,
		logger:    logger.Named("supervisor"),
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxWorkers),
		reconcile: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Run starts the reconciliation loop; it returns when ctx is cancelled,
// after stopping every controller. Run does not return an error on a
// clean stop.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		case <-s.reconcile:
			s.reconcileOnce(ctx)
		}
	}
}

// Register adds a SessionSpec, spawning its pane if the backend supports
// Spawner, and starts its controller. Fails with ErrAlreadyRegistered if
// spec.ID is already registered.
func (s *Supervisor) Register(ctx context.Context, spec SessionSpec) (*controller.Controller, error) {
	if spec.ID == "" {
		spec.ID = idgen.NewWithPrefix("sess")
	}
	if _, exists := s.registry.Load(spec.ID); exists {
		return nil, ErrAlreadyRegistered
	}

	pane, err := s.launch(ctx, spec)
	if err != nil {
		return nil, err
	}

	ctrl := controller.New(spec.ID, spec.ProjectID, pane, s.backend, s.library, s.responder, s.bus, s.cfg.Controller, s.logger)
	ctrlCtx, cancel := context.WithCancel(context.Background())

	reg := &registration{spec: spec, pane: pane, controller: ctrl, cancel: cancel}
	if _, loaded := s.registry.LoadOrStore(spec.ID, reg); loaded {
		cancel()
		return nil, ErrAlreadyRegistered
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctrl.Run(ctrlCtx)
	}()

	if err := ctrl.Start(ctx); err != nil {
		s.logger.Warn("supervisor: controller failed to start", zap.String("session", spec.ID), zap.Error(err))
	}
	return ctrl, nil
}

func (s *Supervisor) launch(ctx context.Context, spec SessionSpec) (paneio.PaneRef, error) {
	spawner, ok := s.backend.(paneio.Spawner)
	if !ok {
		return paneio.PaneRef{SessionID: spec.ID}, nil
	}
	var window WindowSpec
	if len(spec.Windows) > 0 {
		window = spec.Windows[0]
	}
	return spawner.Spawn(ctx, paneio.SessionLaunchSpec{
		SessionID:     spec.ID,
		Command:       window.Command,
		WorkingDir:    firstNonEmpty(window.WorkingDir, spec.WorkingDir),
		Env:           window.Env,
		Rows:          window.Rows,
		Cols:          window.Cols,
		Encoding:      spec.Encoding,
		ShellOverride: s.cfg.ShellOverride,
		ShellEnv:      s.cfg.ShellEnv,
	})
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// List returns every registered session's current view.
func (s *Supervisor) List() []controller.View {
	var views []controller.View
	s.registry.Range(func(_ string, reg *registration) bool {
		views = append(views, reg.controller.View())
		return true
	})
	return views
}

// Inspect returns one session's current view.
func (s *Supervisor) Inspect(id string) (controller.View, error) {
	reg, ok := s.registry.Load(id)
	if !ok {
		return controller.View{}, ErrUnknownSession
	}
	return reg.controller.View(), nil
}

// Logs returns the last maxLines of a registered session's pane text,
// per spec.md §4.7's "get session logs (session id, tail N) -> lines".
func (s *Supervisor) Logs(ctx context.Context, id string, maxLines int) ([]string, error) {
	reg, ok := s.registry.Load(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	text, err := s.backend.Capture(ctx, reg.pane, maxLines)
	if err != nil {
		return nil, err
	}
	return strings.Split(text, "\n"), nil
}

// StartSession (re)starts a registered session's controller.
func (s *Supervisor) StartSession(ctx context.Context, id string) error {
	reg, ok := s.registry.Load(id)
	if !ok {
		return ErrUnknownSession
	}
	return reg.controller.Start(ctx)
}

// StopSession stops a registered session's controller without
// unregistering it; the reconciliation loop will not resurrect it.
func (s *Supervisor) StopSession(ctx context.Context, id string) error {
	reg, ok := s.registry.Load(id)
	if !ok {
		return ErrUnknownSession
	}
	return reg.controller.Stop(ctx)
}

// Teardown stops and permanently removes a session, closing its pane if
// the backend supports it.
func (s *Supervisor) Teardown(ctx context.Context, id string) error {
	reg, ok := s.registry.LoadAndDelete(id)
	if !ok {
		return ErrUnknownSession
	}
	_ = reg.controller.Stop(ctx)
	reg.cancel()
	if spawner, ok := s.backend.(paneio.Spawner); ok {
		_ = spawner.Close(reg.pane)
	}
	return nil
}

// RegisterOverride forwards a one-shot or sticky override to the
// process-wide responder for (project, session, fingerprint).
func (s *Supervisor) RegisterOverride(id, fingerprint, response string, oneShot bool) error {
	reg, ok := s.registry.Load(id)
	if !ok {
		return ErrUnknownSession
	}
	s.responder.SetOverride(learner.Scope{ProjectID: reg.spec.ProjectID, SessionID: id}, fingerprint, response, oneShot)
	return nil
}

// TriggerReconcile requests an out-of-band reconciliation pass, useful
// right after a Register/Teardown so the API doesn't have to wait for
// the next tick.
func (s *Supervisor) TriggerReconcile() {
	select {
	case s.reconcile <- struct{}{}:
	default:
	}
}

// Dispatch runs fn on the shared bounded worker pool (spec.md §4.6),
// blocking until a slot is free or ctx is done. Nothing in this module
// calls it: the reconciliation loop captures inline and the learner
// store flushes on its own timer.
func (s *Supervisor) Dispatch(ctx context.Context, fn func(context.Context)) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

func (s *Supervisor) reconcileOnce(ctx context.Context) {
	groups, err := s.backend.Enumerate(ctx)
	if err != nil {
		s.logger.Warn("supervisor: reconcile enumerate failed", zap.Error(err))
		return
	}
	live := make(map[string]bool, len(groups))
	for _, g := range groups {
		live[g.SessionID] = true
	}

	var orphans []string
	s.registry.Range(func(id string, reg *registration) bool {
		if !live[id] {
			orphans = append(orphans, id)
			return true
		}
		if reg.controller.State() == controller.StateIdle {
			if err := reg.controller.Start(ctx); err != nil {
				s.logger.Warn("supervisor: reconcile restart failed", zap.String("session", id), zap.Error(err))
			}
		}
		return true
	})

	for _, id := range orphans {
		s.logger.Info("supervisor: tearing down orphaned session", zap.String("session", id))
		_ = s.Teardown(ctx, id)
	}
}

func (s *Supervisor) shutdownAll() {
	s.stopOnce.Do(func() {
		var ids []string
		s.registry.Range(func(id string, _ *registration) bool {
			ids = append(ids, id)
			return true
		})

		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GraceDeadline)
		defer cancel()
		for _, id := range ids {
			if reg, ok := s.registry.Load(id); ok {
				if err := reg.controller.Stop(stopCtx); err != nil {
					s.logger.Warn("supervisor: graceful stop failed", zap.String("session", id), zap.Error(err))
				}
			}
		}

		waitCh := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitCh)
		}()
		select {
		case <-waitCh:
		case <-time.After(s.cfg.GraceDeadline):
			s.logger.Warn("supervisor: grace deadline elapsed, some controllers may not have exited")
		}

		if s.responder != nil {
			s.responder.Close()
		}
	})
}

// Done closes once Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

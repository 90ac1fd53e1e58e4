// Package apiserver implements the Control-plane API (C7): a huma-
// documented REST surface over a fiber app, plus a websocket bridge onto
// the event bus's push channel. Wiring mirrors the teacher's
// api/h/huma.go (NewAPI: humafiber.New + huma.NewGroup) and
// api/terminal_routes.go (registerHTTP/registerWebsocket split,
// fasthttpadaptor bridging gorilla/websocket into fiber).
package apiserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"yesman-claude/controller"
	"yesman-claude/eventbus"
	"yesman-claude/supervisor"
)

const sessionsTag = "sessions"
const streamPath = "/api/v1/stream"

// Server owns the fiber app, the huma documentation layer on top of it,
// and the websocket upgrader for the stream endpoint.
type Server struct {
	app      *fiber.App
	sup      *supervisor.Supervisor
	bus      *eventbus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New builds a Server, registering every route on app.
func New(app *fiber.App, sup *supervisor.Supervisor, bus *eventbus.Bus, title, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if title == "" {
		title = "Yesman Control Plane"
	}
	if version == "" {
		version = "1.0.0"
	}

	api := humafiber.New(app, huma.DefaultConfig(title, version))
	group := huma.NewGroup(api, "/api/v1")

	s := &Server{
		app:    app,
		sup:    sup,
		bus:    bus,
		logger: logger.Named("apiserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.registerHTTP(group)
	s.registerStream()
	return s
}

// sessionView is the JSON projection of controller.View (spec.md §3's
// SessionView: uptime, last activity, controller state, last decision
// summary, error — never raw pane text).
type sessionView struct {
	SessionID      string     `json:"sessionId"`
	State          string     `json:"state"`
	UptimeSeconds  float64    `json:"uptimeSeconds"`
	LastActivity   *time.Time `json:"lastActivity,omitempty"`
	LastDecision   *decisionView `json:"lastDecision,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	RunningCommand string     `json:"runningCommand,omitempty"`
	Assistant      string     `json:"assistant,omitempty"`
	AssistantName  string     `json:"assistantName,omitempty"`
}

type decisionView struct {
	Fingerprint string  `json:"fingerprint"`
	Response    string  `json:"response"`
	Confidence  float64 `json:"confidence"`
	Strategy    string  `json:"strategy"`
}

func toSessionView(id string, v controller.View) sessionView {
	out := sessionView{
		SessionID:      id,
		State:          string(v.State),
		UptimeSeconds:  v.Uptime.Seconds(),
		LastError:      v.LastError,
		RunningCommand: v.RunningCommand,
	}
	if v.Assistant != "" {
		out.Assistant = string(v.Assistant)
		out.AssistantName = v.Assistant.DisplayName()
	}
	if !v.LastActivity.IsZero() {
		t := v.LastActivity
		out.LastActivity = &t
	}
	if v.LastDecision != nil {
		out.LastDecision = &decisionView{
			Fingerprint: v.LastDecision.Fingerprint,
			Response:    v.LastDecision.Response,
			Confidence:  v.LastDecision.Confidence,
			Strategy:    string(v.LastDecision.Strategy),
		}
	}
	return out
}

func (s *Server) registerHTTP(group *huma.Group) {
	huma.Get(group, "/sessions", func(ctx context.Context, _ *struct{}) (*ItemsResponse[sessionView], error) {
		views := s.sup.List()
		out := make([]sessionView, 0, len(views))
		for _, v := range views {
			out = append(out, toSessionView(v.SessionID, v))
		}
		resp := NewItemsResponse(out)
		resp.Status = http.StatusOK
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-list"
		op.Summary = "List supervised sessions"
		op.Tags = []string{sessionsTag}
	})

	huma.Get(group, "/sessions/{sessionId}", func(ctx context.Context, input *struct {
		SessionID string `path:"sessionId"`
	}) (*ItemResponse[sessionView], error) {
		v, err := s.sup.Inspect(input.SessionID)
		if err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewItemResponse(toSessionView(input.SessionID, v))
		resp.Status = http.StatusOK
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-get"
		op.Summary = "Get one session's view"
		op.Tags = []string{sessionsTag}
	})

	huma.Post(group, "/sessions", func(ctx context.Context, input *createSessionInput) (*ItemResponse[sessionView], error) {
		spec := supervisor.SessionSpec{
			ID:         input.Body.ID,
			ProjectID:  input.Body.ProjectID,
			WorkingDir: input.Body.WorkingDir,
			Encoding:   input.Body.Encoding,
		}
		if len(input.Body.Command) > 0 {
			spec.Windows = []supervisor.WindowSpec{{
				Command:    input.Body.Command,
				WorkingDir: input.Body.WorkingDir,
				Rows:       input.Body.Rows,
				Cols:       input.Body.Cols,
			}}
		}
		ctrl, err := s.sup.Register(ctx, spec)
		if err != nil {
			if errors.Is(err, supervisor.ErrAlreadyRegistered) {
				return nil, huma.Error409Conflict(err.Error())
			}
			return nil, huma.Error500InternalServerError("failed to register session", err)
		}
		resp := NewItemResponse(toSessionView(spec.ID, ctrl.View()))
		resp.Status = http.StatusCreated
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-register"
		op.Summary = "Register and start a new session"
		op.Tags = []string{sessionsTag}
	})

	huma.Delete(group, "/sessions/{sessionId}", func(ctx context.Context, input *struct {
		SessionID string `path:"sessionId"`
	}) (*MessageResponse, error) {
		if err := s.sup.Teardown(ctx, input.SessionID); err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewMessageResponse("session torn down")
		resp.Status = http.StatusOK
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-teardown"
		op.Summary = "Tear down a session"
		op.Tags = []string{sessionsTag}
	})

	huma.Post(group, "/sessions/{sessionId}/controller/start", func(ctx context.Context, input *struct {
		SessionID string `path:"sessionId"`
	}) (*MessageResponse, error) {
		if err := s.sup.StartSession(ctx, input.SessionID); err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewMessageResponse("accepted")
		resp.Status = http.StatusAccepted
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "controller-start"
		op.Summary = "Start a session's controller"
		op.Tags = []string{sessionsTag}
	})

	huma.Post(group, "/sessions/{sessionId}/controller/stop", func(ctx context.Context, input *struct {
		SessionID string `path:"sessionId"`
	}) (*MessageResponse, error) {
		if err := s.sup.StopSession(ctx, input.SessionID); err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewMessageResponse("accepted")
		resp.Status = http.StatusAccepted
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "controller-stop"
		op.Summary = "Stop a session's controller"
		op.Tags = []string{sessionsTag}
	})

	huma.Post(group, "/sessions/{sessionId}/controller/restart", func(ctx context.Context, input *struct {
		SessionID string `path:"sessionId"`
	}) (*MessageResponse, error) {
		if err := s.sup.StopSession(ctx, input.SessionID); err != nil {
			return nil, notFoundOrErr(err)
		}
		if err := s.sup.StartSession(ctx, input.SessionID); err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewMessageResponse("accepted")
		resp.Status = http.StatusAccepted
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "controller-restart"
		op.Summary = "Restart a session's controller"
		op.Tags = []string{sessionsTag}
	})

	huma.Post(group, "/sessions/{sessionId}/overrides", func(ctx context.Context, input *setOverrideInput) (*MessageResponse, error) {
		if err := s.sup.RegisterOverride(input.SessionID, input.Body.Fingerprint, input.Body.Response, input.Body.OneShot); err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewMessageResponse("override registered")
		resp.Status = http.StatusAccepted
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-set-override"
		op.Summary = "Register a user override for a prompt fingerprint"
		op.Tags = []string{sessionsTag}
	})

	huma.Get(group, "/sessions/{sessionId}/logs", func(ctx context.Context, input *getLogsInput) (*ItemResponse[logsView], error) {
		tail := input.Tail
		if tail <= 0 {
			tail = 100
		}
		lines, err := s.sup.Logs(ctx, input.SessionID, tail)
		if err != nil {
			return nil, notFoundOrErr(err)
		}
		resp := NewItemResponse(logsView{Lines: lines})
		resp.Status = http.StatusOK
		return resp, nil
	}, func(op *huma.Operation) {
		op.OperationID = "session-logs"
		op.Summary = "Tail a session's pane output"
		op.Tags = []string{sessionsTag}
	})
}

func notFoundOrErr(err error) error {
	if errors.Is(err, supervisor.ErrUnknownSession) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError("operation failed", err)
}

type createSessionInput struct {
	Body struct {
		ID         string   `json:"id,omitempty"`
		ProjectID  string   `json:"projectId"`
		Command    []string `json:"command,omitempty"`
		WorkingDir string   `json:"workingDir,omitempty"`
		Encoding   string   `json:"encoding,omitempty"`
		Rows       int      `json:"rows,omitempty"`
		Cols       int      `json:"cols,omitempty"`
	} `json:"body"`
}

type setOverrideInput struct {
	SessionID string `path:"sessionId"`
	Body      struct {
		Fingerprint string `json:"fingerprint"`
		Response    string `json:"response"`
		OneShot     bool   `json:"oneShot"`
	} `json:"body"`
}

type getLogsInput struct {
	SessionID string `path:"sessionId"`
	Tail      int    `query:"tail"`
}

type logsView struct {
	Lines []string `json:"lines"`
}

func (s *Server) registerStream() {
	handler := fasthttpadaptor.NewFastHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serveStream(w, r)
	}))
	s.app.Get(streamPath, func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})
}

// serveStream bridges the event bus into a websocket connection,
// matching api/terminal_routes.go's serveWebsocket/forwardPTY split:
// one goroutine drains client frames to detect disconnects, the caller's
// goroutine forwards bus events (filtered by sessionId/kind query params)
// until the subscription is terminated or the socket closes.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	filter := eventbus.Filter{}
	if q := r.URL.Query().Get("sessionId"); q != "" {
		filter.SessionIDs = []string{q}
	}
	if kinds := r.URL.Query()["kind"]; len(kinds) > 0 {
		filter.Kinds = make([]eventbus.Kind, len(kinds))
		for i, k := range kinds {
			filter.Kinds[i] = eventbus.Kind(k)
		}
	}

	sub := s.bus.Subscribe(filter)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeMu := sync.Mutex{}
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	go s.drainClient(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
			if ev.Kind == eventbus.KindSubscriberLagged {
				return
			}
		}
	}
}

// drainClient discards anything the client sends; the stream is
// one-directional per spec.md §4.7 (the session id / event kind filter is
// fixed at connect time from the URL query), but an unread socket will
// never see a close frame, so this goroutine exists purely to notice one.
func (s *Server) drainClient(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

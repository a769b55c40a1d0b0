package transport

import (
	"context"
	"crypto/subtle"
	"net"
	"sync"
	"time"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/framecodec"
	"github.com/surfwright/surfwright/internal/lanekey"
	"github.com/surfwright/surfwright/internal/metrics"
	"github.com/surfwright/surfwright/internal/scheduler"
)

// RunFunc executes one dispatched `run` request's argv and reports its
// outcome. It is invoked from inside the Lane Scheduler, so it must
// honor ctx cancellation.
type RunFunc func(ctx context.Context, argv []string) (stdout, stderr string, code int, err error)

// Server is the daemon's loopback TCP listener. It
// accepts connections in parallel but serializes `run` admission
// through the Lane Scheduler; `ping` and `shutdown` bypass the
// scheduler entirely since they never touch state.
type Server struct {
	Token         string
	IdleTimeout   time.Duration
	MaxFrameBytes int
	AgentID       string

	Scheduler *scheduler.Scheduler
	Resolver  *lanekey.Resolver
	Run       RunFunc
	Metrics   *metrics.Metrics

	mu           sync.Mutex
	listener     net.Listener
	port         int
	inFlight     int
	lastActivity time.Time
	shuttingDown bool
}

// Listen binds 127.0.0.1:0 and returns the port the kernel assigned.
// Call Serve afterward to begin accepting.
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return s.port, nil
}

// Port returns the bound port, valid after a successful Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Serve accepts connections until Shutdown is called or the idle
// timeout fires. It blocks; callers run it in its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.IdleTimeout > 0 {
		go s.watchIdle(ctx)
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down {
				return nil
			}
			return err
		}
		s.touch()
		go s.handleConn(ctx, conn)
	}
}

// Shutdown closes the listener, ending Serve's accept loop.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.shuttingDown = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Server) enterInFlight() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *Server) leaveInFlight() {
	s.mu.Lock()
	s.inFlight--
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Server) watchIdle(ctx context.Context) {
	ticker := time.NewTicker(s.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idleFor := time.Since(s.lastActivity)
			quiet := s.inFlight == 0 && idleFor >= s.IdleTimeout
			s.mu.Unlock()
			if quiet {
				_ = s.Shutdown()
				return
			}
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.enterInFlight()
	defer s.leaveInFlight()

	var req Request
	if err := framecodec.Decode(conn, s.MaxFrameBytes, &req); err != nil {
		s.writeResponse(conn, Response{OK: false, ErrorCode: string(errs.ErrDaemonFrameInvalid), Message: err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.Token)) != 1 {
		s.writeResponse(conn, Response{OK: false, Kind: req.Kind, ErrorCode: string(errs.ErrDaemonTokenInvalid), Message: "invalid token"})
		return
	}

	switch req.Kind {
	case KindPing:
		s.writeResponse(conn, Response{OK: true, Kind: KindPing})
		s.recordOutcome(KindPing, "ok")
	case KindShutdown:
		s.writeResponse(conn, Response{OK: true, Kind: KindShutdown})
		s.recordOutcome(KindShutdown, "ok")
		_ = s.Shutdown()
	case KindRun:
		s.handleRun(ctx, conn, req)
	default:
		s.writeResponse(conn, Response{OK: false, Kind: req.Kind, ErrorCode: string(errs.ErrDaemonRequestInvalid), Message: "unrecognized request kind"})
		s.recordOutcome(req.Kind, string(errs.ErrDaemonRequestInvalid))
	}
}

func (s *Server) recordOutcome(kind RequestKind, outcome string) {
	if s.Metrics != nil {
		s.Metrics.RecordRequest(string(kind), outcome)
	}
}

func (s *Server) handleRun(ctx context.Context, conn net.Conn, req Request) {
	if s.Run == nil || s.Scheduler == nil || s.Resolver == nil {
		s.writeResponse(conn, Response{OK: false, Kind: KindRun, ErrorCode: string(errs.ErrInternal), Message: "server not configured for run requests"})
		return
	}

	laneKey, family := s.Resolver.Resolve(req.Argv, s.AgentID)

	var stdout, stderr string
	var code int
	var runErr error
	start := time.Now()

	task := &scheduler.Task{
		LaneKey: laneKey,
		Ctx:     ctx,
		Run: func(ctx context.Context) {
			stdout, stderr, code, runErr = s.Run(ctx, req.Argv)
		},
	}

	if err := s.Scheduler.Submit(task); err != nil {
		s.writeResponse(conn, errResponse(KindRun, err))
		s.recordOutcome(KindRun, string(errs.CodeOf(err)))
		return
	}
	s.recordRunDuration(string(family), start)
	if s.Metrics != nil {
		s.Metrics.SetLaneActive(string(family), float64(s.Scheduler.ActiveTotal()))
		s.Metrics.SetQueueDepth(laneKey, float64(s.Scheduler.QueueDepth(laneKey)))
	}
	if runErr != nil {
		s.writeResponse(conn, errResponse(KindRun, runErr))
		s.recordOutcome(KindRun, string(errs.CodeOf(runErr)))
		return
	}
	s.recordOutcome(KindRun, "ok")
	s.writeResponse(conn, Response{OK: true, Kind: KindRun, Code: code, Stdout: stdout, Stderr: stderr})
}

func (s *Server) recordRunDuration(family string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.ObserveRequestDuration(family, time.Since(start).Seconds())
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	frame, err := framecodec.Encode(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(frame)
}

func errResponse(kind RequestKind, err error) Response {
	if e, ok := errs.As(err); ok {
		return Response{
			OK:          false,
			Kind:        kind,
			ErrorCode:   string(e.Code),
			Message:     e.Message,
			Hints:       e.Hints,
			HintContext: e.HintContext,
			Retryable:   e.Retryable,
		}
	}
	return Response{OK: false, Kind: kind, ErrorCode: string(errs.ErrDaemonRunFailed), Message: err.Error()}
}

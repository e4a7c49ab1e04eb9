package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/logging"
	"grimm.is/npfkit/internal/metrics"
)

// Backend executes decoded requests. A returned error is reported to the
// client as a bare numeric code; structured failures go in the response
// document instead.
type Backend interface {
	Handle(ctx context.Context, cmd Command, req *dict.Map) (*dict.Map, error)
}

// Server exposes a Backend over net/rpc.
type Server struct {
	backend     Backend
	logger      *logging.Logger
	metrics     *metrics.Registry
	requireRoot bool

	rpc        *rpc.Server
	listener   net.Listener
	socketPath string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a server for backend.
func NewServer(backend Backend) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		backend: backend,
		logger:  logging.WithComponent("ctlplane"),
		metrics: metrics.Get(),
		rpc:     rpc.NewServer(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	if err := s.rpc.RegisterName("Server", &service{s: s}); err != nil {
		panic(fmt.Sprintf("ctlplane: register rpc service: %v", err))
	}
	return s
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(l *logging.Logger) { s.logger = l }

// SetMetrics replaces the metrics registry.
func (s *Server) SetMetrics(r *metrics.Registry) { s.metrics = r }

// RequireRoot rejects unix socket peers that are not uid 0.
func (s *Server) RequireRoot(on bool) { s.requireRoot = on }

// Start listens on addr: a unix socket path or "vsock:<cid>:<port>".
func (s *Server) Start(addr string) error {
	if rest, ok := strings.CutPrefix(addr, "vsock:"); ok {
		_, port, err := parseVsock(rest)
		if err != nil {
			return err
		}
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		return s.StartWithListener(l)
	}

	// Remove a stale socket from a previous run
	os.Remove(addr)

	listener, err := net.Listen("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := os.Chmod(addr, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.socketPath = addr
	return s.StartWithListener(listener)
}

// StartWithListener serves connections accepted from listener.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.listener = listener
	s.logger.Info("control channel listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("accept failed", "error", err)
				return
			}
			if s.requireRoot && !s.peerAllowed(conn) {
				conn.Close()
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.ServeConn(conn)
			}()
		}
	}()
	return nil
}

// ServeConn serves a single connection until the peer hangs up.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		if r := recover(); r != nil {
			s.logger.Error("connection handler panicked", "panic", r)
		}
	}()
	s.rpc.ServeConn(conn)
}

func (s *Server) peerAllowed(conn net.Conn) bool {
	uid, known, err := peerUID(conn)
	if err != nil {
		s.logger.Warn("peer credentials unavailable", "error", err)
		return false
	}
	if known && uid != 0 {
		s.logger.Warn("rejecting unprivileged peer", "uid", uid)
		return false
	}
	return true
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	s.cancel()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return err
}

// service is the receiver registered with net/rpc; it carries only the
// wire method.
type service struct {
	s *Server
}

// Exchange handles one request.
func (svc *service) Exchange(args *ExchangeArgs, reply *ExchangeReply) error {
	return svc.s.exchange(args, reply)
}

func (s *Server) exchange(args *ExchangeArgs, reply *ExchangeReply) error {
	start := time.Now()
	cmd := args.Command

	var req *dict.Map
	if len(args.Payload) > 0 {
		m, err := dict.UnmarshalMap(args.Payload)
		if err != nil {
			s.logger.Warn("malformed request", "command", cmd.String(), "error", err)
			s.metrics.RecordRequest(cmd.String(), int32(syscall.EPROTO), time.Since(start))
			return fmt.Errorf("decode %s request: %w", cmd, err)
		}
		req = m
	}

	resp, err := s.backend.Handle(s.ctx, cmd, req)
	if err != nil {
		reply.Errno = int32(Errno(err))
		s.logger.Warn("request failed", "command", cmd.String(), "errno", reply.Errno, "error", err)
		s.metrics.RecordRequest(cmd.String(), reply.Errno, time.Since(start))
		return nil
	}

	var peerErrno int32
	if args.WantReply {
		if resp == nil {
			resp = dict.NewMap()
		}
		data, err := dict.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode %s response: %w", cmd, err)
		}
		reply.Payload = data
		peerErrno, _ = resp.GetInt32("errno")
	}
	s.logger.Debug("request handled", "command", cmd.String(), "errno", peerErrno)
	s.metrics.RecordRequest(cmd.String(), peerErrno, time.Since(start))
	return nil
}

// Package server implements the request server (C9): a TCP listener that
// authenticates each connection with the HMAC handshake (internal/auth),
// decodes one framed request (internal/wire), dispatches it to a worker
// (internal/worker), pumps keep-alive frames while the worker runs, and
// replies before closing with the end-of-stream sentinel.
package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snafus/cephsum-server/internal/action"
	"github.com/snafus/cephsum-server/internal/audit"
	"github.com/snafus/cephsum-server/internal/auth"
	"github.com/snafus/cephsum-server/internal/errs"
	"github.com/snafus/cephsum-server/internal/metrics"
	"github.com/snafus/cephsum-server/internal/objstore"
	"github.com/snafus/cephsum-server/internal/objstore/pool"
	"github.com/snafus/cephsum-server/internal/wire"
	"github.com/snafus/cephsum-server/internal/worker"
)

// ProtocolVersion is reported in every response frame's "ver" field.
const ProtocolVersion = "v1"

// statusMessage maps a numeric status to the wire-level status_message
// string clients match against.
func statusMessage(status int) string {
	if status == 0 {
		return "OK"
	}
	return "failed"
}

// keepAlivePeriod is the interval at which a WAIT response pumps an
// {msg:"alive"} frame while a worker is still running.
const keepAlivePeriod = 2 * time.Second

// Config carries everything a Server needs at construction: the shared
// auth key, the worker registry, the connection pool (for per-request
// object-store access), and the per-request deadline.
type Config struct {
	AuthKey         []byte
	Registry        *worker.Registry
	Pool            *pool.Pool
	DefaultXattrKey string
	RequestTimeout  time.Duration
	Log             *logrus.Logger
	Metrics         metrics.Recorder
	Audit           audit.Logger
}

// Server accepts connections on a listener and drives each one through the
// AUTH/RECV/DISPATCH/WAIT/REPLY/CLOSE state machine.
type Server struct {
	listener net.Listener
	cfg      Config
	log      *logrus.Logger
	metrics  metrics.Recorder
	audit    audit.Logger
	authKey  atomic.Pointer[[]byte]
}

// New wraps an already-bound listener. Callers typically build the
// listener with net.Listen in cmd/cephsumd so they control bind errors
// directly.
func New(listener net.Listener, cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	al := cfg.Audit
	if al == nil {
		al = audit.NewLogger(1000, nil)
	}
	s := &Server{listener: listener, cfg: cfg, log: log, metrics: rec, audit: al}
	key := append([]byte(nil), cfg.AuthKey...)
	s.authKey.Store(&key)
	return s
}

// SetAuthKey atomically swaps the key used to authenticate new
// connections. Connections already past the AUTH phase are unaffected.
// Used by the config file watcher to apply a reloaded auth key without
// restarting the daemon.
func (s *Server) SetAuthKey(key []byte) {
	k := append([]byte(nil), key...)
	s.authKey.Store(&k)
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return errs.Wrap(errs.KindBrokenPipe, "accept connection", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn drives one connection through the full state machine. It
// never returns an error to the caller: every failure path closes the
// connection and is logged instead, since no one is left to receive the
// error at this point.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	correlationID := uuid.New().String()
	log := s.log.WithFields(logrus.Fields{"conn_id": correlationID, "remote_addr": conn.RemoteAddr().String()})

	s.metrics.ConnectionAccepted()
	defer s.metrics.ConnectionClosed()
	defer conn.Close()

	// AUTH
	if err := auth.DeliverChallenge(conn, *s.authKey.Load()); err != nil {
		s.metrics.AuthFailure()
		s.audit.LogAuthFailure(conn.RemoteAddr().String(), err)
		log.WithError(err).Warn("authentication failed")
		return
	}
	log.Debug("authentication succeeded")

	// RECV
	msg, ok, err := wire.Recv(ctx, conn)
	if err != nil {
		log.WithError(err).Warn("failed to receive request frame")
		s.sendSentinel(conn, log)
		return
	}
	if !ok {
		log.Debug("peer closed before sending a request")
		return
	}
	workerName, _ := msg["msg"].(string)
	path, _ := msg["path"].(string)
	algType, _ := msg["algtype"].(string)
	log = log.WithField("worker", workerName)

	// DISPATCH
	deps, err := s.buildDeps()
	if err != nil {
		log.WithError(err).Error("failed to acquire object-store backend")
		s.replyError(conn, log, correlationID, workerName, err)
		return
	}

	dispatchDeadline := time.Now().Add(s.requestTimeout())
	reqCtx, cancel := context.WithDeadline(ctx, dispatchDeadline)
	defer cancel()

	s.metrics.RequestDispatched(workerName)
	start := time.Now()

	w, err := s.cfg.Registry.Dispatch(reqCtx, msg, deps)
	if err != nil {
		log.WithError(err).Warn("dispatch failed")
		s.replyError(conn, log, correlationID, workerName, err)
		return
	}

	// WAIT
	for {
		if w.IsReady(keepAlivePeriod) {
			break
		}
		if time.Now().After(dispatchDeadline) {
			s.metrics.RequestTimedOut(workerName)
			log.Warn("request timed out waiting for worker")
			s.replyTimeout(conn, log, correlationID, workerName)
			return
		}
		elapsed := time.Since(start).Seconds()
		if err := wire.Send(conn, aliveMsg{Msg: "alive", Dt: elapsed, ID: correlationID}); err != nil {
			log.WithError(err).Warn("broken pipe sending keep-alive")
			return
		}
	}
	// A worker that stopped because the request deadline cancelled its
	// context is reported as a timeout, not as its own cancelled result.
	if reqCtx.Err() == context.DeadlineExceeded {
		s.metrics.RequestTimedOut(workerName)
		log.Warn("request timed out waiting for worker")
		s.replyTimeout(conn, log, correlationID, workerName)
		return
	}

	resp := w.Response()
	duration := time.Since(start)
	s.metrics.RequestCompleted(workerName, resp.Status, duration)
	var respErr error
	if resp.Status != 0 {
		respErr = errs.New(errs.KindUnknown, resp.Error)
	}
	s.audit.LogRequest(workerName, path, algType, conn.RemoteAddr().String(), correlationID, resp.Status, respErr, duration)

	// REPLY
	s.replyFinal(conn, log, correlationID, resp)
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return s.cfg.RequestTimeout
}

// buildDeps draws one backend handle from the pool and wraps it with the
// action layer for a single request. Pooled handles are shared across
// concurrent callers and are never closed except at server shutdown
// (pool.ShutdownAll), so there is nothing to release per request.
func (s *Server) buildDeps() (worker.Deps, error) {
	resource := s.cfg.Pool.Get()
	backend, ok := resource.(objstore.Backend)
	if !ok {
		return worker.Deps{}, errs.New(errs.KindUnknown, "pooled resource does not implement objstore.Backend")
	}
	readBlockSize := s.cfg.Pool.ReadBlockSize()
	store := objstore.New(backend, readBlockSize)
	deps := worker.Deps{
		Actions:         action.New(store),
		PathMapper:      s.cfg.Pool.PathMapper(),
		DefaultXattrKey: s.cfg.DefaultXattrKey,
		ReadBlockSize:   readBlockSize,
	}
	return deps, nil
}

type aliveMsg struct {
	Msg string  `json:"msg"`
	Dt  float64 `json:"dt"`
	ID  string  `json:"id"`
}

type responseMsg struct {
	Msg           string                 `json:"msg"`
	Status        int                    `json:"status"`
	StatusMessage string                 `json:"status_message"`
	ID            string                 `json:"id"`
	Ver           string                 `json:"ver"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
}

func (s *Server) replyFinal(conn net.Conn, log *logrus.Entry, correlationID string, resp worker.Response) {
	msg := responseMsg{
		Msg: "response", Status: resp.Status, StatusMessage: statusMessage(resp.Status),
		ID: correlationID, Ver: ProtocolVersion, Details: resp.Details,
	}
	if resp.Status != 0 {
		msg.Error = resp.Error
		msg.Reason = resp.Error
	}
	if err := wire.Send(conn, msg); err != nil {
		log.WithError(err).Warn("failed to send final response")
	}
	s.sendSentinel(conn, log)
}

func (s *Server) replyError(conn net.Conn, log *logrus.Entry, correlationID, workerName string, err error) {
	msg := responseMsg{
		Msg: "response", Status: 1, StatusMessage: statusMessage(1),
		ID: correlationID, Ver: ProtocolVersion, Error: err.Error(), Reason: err.Error(),
	}
	if sendErr := wire.Send(conn, msg); sendErr != nil {
		log.WithError(sendErr).Warn("failed to send error response")
	}
	s.sendSentinel(conn, log)
}

func (s *Server) replyTimeout(conn net.Conn, log *logrus.Entry, correlationID, workerName string) {
	msg := responseMsg{
		Msg: "response", Status: 1, StatusMessage: "ERROR",
		ID: correlationID, Ver: ProtocolVersion,
		Error: "request timed out", Reason: "request timed out",
	}
	if err := wire.Send(conn, msg); err != nil {
		log.WithError(err).Warn("failed to send timeout response")
	}
	s.sendSentinel(conn, log)
}

func (s *Server) sendSentinel(conn net.Conn, log *logrus.Entry) {
	if err := wire.Send(conn, nil); err != nil {
		log.WithError(err).Debug("failed to send end-of-stream sentinel")
	}
}

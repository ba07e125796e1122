package httpd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/vincentwuo/evhttpd/internal/engine"
	"github.com/vincentwuo/evhttpd/pkg/util"

	"github.com/libp2p/go-reuseport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

var ErrServerClosed = errors.New("server closed")

const busyMessage = "Internal server busy"

const (
	defaultDocRoot         = "./www"
	defaultMaxConns        = 65536
	defaultWorkers         = 8
	defaultMaxRequests     = 10000
	defaultReadBufferSize  = 2048
	defaultWriteBufferSize = 1024
	defaultPathMax         = 200
	defaultMaxEvents       = 10000
)

// Server is the reactor: one goroutine multiplexing the listener and every
// client socket, handing readable connections to the worker pool and
// performing writes itself.
type Server struct {
	listenerFile *os.File // keeps the listening fd from being collected
	listenFd     int
	poller       *engine.Poller
	timer        *engine.TimeQueue
	mgr          *ConnManager
	pool         *Pool
	notify       chan engine.Event

	docRoot         string
	maxConns        int64
	workers         int
	maxRequests     int
	readBufferSize  int
	writeBufferSize int
	pathMax         int
	maxEvents       int
	sendBandwidth   float64
	acceptRate      float64
	acceptLimiter   *rate.Limiter

	mu      sync.Mutex
	serving bool
	closed  bool
	stopCh  chan struct{}
	done    chan struct{}
}

type Option func(*Server)

func WithDocRoot(root string) Option {
	return func(s *Server) {
		s.docRoot = root
	}
}

// WithMaxConns caps live client connections. 0 removes the cap.
func WithMaxConns(n int64) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

func WithWorkers(n int) Option {
	return func(s *Server) {
		s.workers = n
	}
}

func WithMaxRequests(n int) Option {
	return func(s *Server) {
		s.maxRequests = n
	}
}

func WithReadBufferSize(n int) Option {
	return func(s *Server) {
		s.readBufferSize = n
	}
}

func WithWriteBufferSize(n int) Option {
	return func(s *Server) {
		s.writeBufferSize = n
	}
}

func WithPathMax(n int) Option {
	return func(s *Server) {
		s.pathMax = n
	}
}

func WithMaxEvents(n int) Option {
	return func(s *Server) {
		s.maxEvents = n
	}
}

// WithSendBandwidth limits response bytes per second across all connections. 0 means no limit.
func WithSendBandwidth(bytesPerSecond float64) Option {
	return func(s *Server) {
		s.sendBandwidth = bytesPerSecond
	}
}

// WithAcceptRate limits new connections per second; the excess gets the busy reply. 0 means no limit.
func WithAcceptRate(perSecond float64) Option {
	return func(s *Server) {
		s.acceptRate = perSecond
	}
}

// Listen opens a reuseport TCP listener and returns its file, the form NewServer expects.
func Listen(addr string) (*os.File, error) {
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpln, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listen %s: unexpected listener type %T", addr, ln)
	}
	// File dups the descriptor, the net.Listener is no longer needed
	f, err := tcpln.File()
	ln.Close()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewServer builds a server over an already bound and listening socket.
func NewServer(listener *os.File, opts ...Option) (*Server, error) {
	s := &Server{
		listenerFile:    listener,
		listenFd:        int(listener.Fd()),
		docRoot:         defaultDocRoot,
		maxConns:        defaultMaxConns,
		workers:         defaultWorkers,
		maxRequests:     defaultMaxRequests,
		readBufferSize:  defaultReadBufferSize,
		writeBufferSize: defaultWriteBufferSize,
		pathMax:         defaultPathMax,
		maxEvents:       defaultMaxEvents,
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.readBufferSize <= 0 || s.writeBufferSize <= 0 || s.pathMax <= 1 {
		return nil, errors.New("buffer sizes must be positive")
	}
	s.docRoot = strings.TrimRight(s.docRoot, "/")

	if err := unix.SetNonblock(s.listenFd, true); err != nil {
		return nil, fmt.Errorf("set listener nonblocking: %w", err)
	}

	pool, err := NewPool(s.workers, s.maxRequests)
	if err != nil {
		return nil, err
	}
	poller, err := engine.OpenPoll(s.maxEvents)
	if err != nil {
		pool.Stop()
		return nil, fmt.Errorf("open poller: %w", err)
	}
	if err := poller.Watch(s.listenFd); err != nil {
		pool.Stop()
		poller.CloseBlockWait()
		return nil, fmt.Errorf("watch listener: %w", err)
	}

	s.pool = pool
	s.poller = poller
	s.timer = engine.NewTimeQueue()
	s.notify = make(chan engine.Event, s.maxEvents)

	var sendLimiter *rate.Limiter
	if s.sendBandwidth > 0 {
		burst := int(s.sendBandwidth)
		if burst < 1 {
			burst = 1
		}
		sendLimiter = rate.NewLimiter(rate.Limit(s.sendBandwidth), burst)
	}
	if s.acceptRate > 0 {
		burst := int(s.acceptRate)
		if burst < 1 {
			burst = 1
		}
		s.acceptLimiter = rate.NewLimiter(rate.Limit(s.acceptRate), burst)
	}

	s.mgr = newConnManager(poller, managerConfig{
		docRoot:         s.docRoot,
		pathMax:         s.pathMax,
		maxConns:        s.maxConns,
		readBufferSize:  s.readBufferSize,
		writeBufferSize: s.writeBufferSize,
		sendLimiter:     sendLimiter,
		timer:           s.timer,
	})
	return s, nil
}

// Serve runs the reactor until Close is called. It always returns a non-nil error.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.serving = true
	s.mu.Unlock()
	defer close(s.done)

	go s.poller.Wait(s.notify)
	go s.timer.Ticking(s.notify, s.stopCh)
	util.Logger().Info("server is running", zap.String("root", s.docRoot), zap.Int("workers", s.workers))

	for {
		select {
		case ev := <-s.notify:
			s.dispatch(ev)
		case <-s.stopCh:
			return ErrServerClosed
		}
	}
}

func (s *Server) dispatch(ev engine.Event) {
	if ev.Ident == s.listenFd {
		s.accept()
		return
	}
	c, ok := s.mgr.lookup(ev.Ident)
	if !ok {
		return
	}

	if ev.Type == engine.EV_TYPE_TIMER_DELY {
		if ev.Flag == c.flag && !c.Write() {
			c.Close()
		}
		return
	}

	switch {
	case ev.Ev&engine.ErrEvents != 0:
		c.Close()
	case ev.Ev&engine.InEventRaw != 0:
		if !c.Read() {
			c.Close()
			return
		}
		if !s.pool.Append(c) {
			util.Logger().Warn("worker queue full, dropping connection", zap.Int("fd", ev.Ident), zap.String("remote", c.RemoteAddr))
			c.Close()
		}
	case ev.Ev&engine.OutEventRaw != 0:
		if !c.Write() {
			c.Close()
		}
	}
}

func (s *Server) accept() {
	for {
		fd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			util.Logger().Warn("accept failed", zap.Error(err))
			return
		}
		remote := util.AddrString(sa)

		if s.acceptLimiter != nil && !s.acceptLimiter.Allow() {
			s.busy(fd, remote)
			continue
		}
		if ok, _ := s.mgr.limiter.Acquire(); !ok {
			s.busy(fd, remote)
			continue
		}
		c := s.mgr.attach(fd, fdSocket(fd), remote)
		if err := s.mgr.register(c); err != nil {
			util.Logger().Warn("register connection failed", zap.Int("fd", fd), zap.Error(err))
			c.Close()
			continue
		}
		util.Logger().Debug("connection accepted", zap.Int("fd", fd), zap.String("remote", remote))
	}
}

// busy answers outside the connection pipeline and hangs up.
func (s *Server) busy(fd int, remote string) {
	util.Logger().Warn(busyMessage, zap.String("remote", remote))
	unix.Write(fd, []byte(busyMessage))
	unix.Close(fd)
}

// Live returns the number of open client connections.
func (s *Server) Live() int64 {
	return s.mgr.Live()
}

// SetMaxConns changes the live-connection cap of a running server. Open
// connections above a lowered cap are left alone. 0 removes the cap.
func (s *Server) SetMaxConns(n int64) {
	s.mgr.limiter.Reset(n)
	util.Logger().Info("max connections changed", zap.Int64("maxConns", n), zap.Int64("live", s.mgr.Live()))
}

// Close stops the reactor and the workers, then closes every connection and the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	serving := s.serving
	s.mu.Unlock()

	close(s.stopCh)
	if serving {
		s.poller.Close()
		<-s.done
	} else {
		s.poller.CloseBlockWait()
	}
	s.pool.Stop()
	s.mgr.closeAll()
	util.Logger().Info("server closed", zap.Int64("processed", s.pool.Processed()), zap.Int64("rejected", s.pool.Rejected()))
	return s.listenerFile.Close()
}

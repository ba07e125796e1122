package httpd

import (
	"sync/atomic"
	"time"

	"github.com/vincentwuo/evhttpd/internal/engine"
	"github.com/vincentwuo/evhttpd/pkg/bytepool"
	"github.com/vincentwuo/evhttpd/pkg/concurrent"
	"github.com/vincentwuo/evhttpd/pkg/util"

	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// armer is the readiness registration a connection needs. *engine.Poller implements it.
type armer interface {
	WatchOneShot(fd int) error
	Rearm(fd int, read bool, write bool) error
	UnWatch(fd int) error
}

type managerConfig struct {
	docRoot         string
	pathMax         int
	maxConns        int64
	readBufferSize  int
	writeBufferSize int
	sendLimiter     *rate.Limiter
	timer           *engine.TimeQueue
}

// ConnManager owns the fd table, the live-connection budget and the
// readiness registration shared by the reactor and the workers.
// Each table slot is only touched by whoever currently owns that fd.
type ConnManager struct {
	armer   armer
	conns   *csmap.CsMap[int, *Conn]
	limiter *concurrent.AtomicLimiter

	readPool  *bytepool.Pool
	writePool *bytepool.Pool

	docRoot string
	pathMax int

	sendLimiter *rate.Limiter
	timer       *engine.TimeQueue

	generation int64
}

func newConnManager(a armer, cfg managerConfig) *ConnManager {
	limiter, _ := concurrent.NewAtomicLimiter(cfg.maxConns)
	return &ConnManager{
		armer:       a,
		conns:       csmap.Create[int, *Conn](),
		limiter:     limiter,
		readPool:    bytepool.New(cfg.readBufferSize),
		writePool:   bytepool.New(cfg.writeBufferSize),
		docRoot:     cfg.docRoot,
		pathMax:     cfg.pathMax,
		sendLimiter: cfg.sendLimiter,
		timer:       cfg.timer,
	}
}

// attach builds the connection for a freshly accepted fd and puts it in the
// fd's table slot. The caller must already hold a limiter slot.
func (m *ConnManager) attach(fd int, sock socket, remoteAddr string) *Conn {
	c := &Conn{
		Fd:         fd,
		RemoteAddr: remoteAddr,
		sock:       sock,
		mgr:        m,
		flag:       atomic.AddInt64(&m.generation, 1),
		rbuf:       m.readPool.Get(),
		wbuf:       m.writePool.Get(),
	}
	c.readBuf = *c.rbuf
	c.writeBuf = *c.wbuf
	c.init()
	m.conns.Store(fd, c)
	return c
}

func (m *ConnManager) register(c *Conn) error {
	return m.armer.WatchOneShot(c.Fd)
}

// lookup returns the live connection for fd.
func (m *ConnManager) lookup(fd int) (*Conn, bool) {
	c, ok := m.conns.Load(fd)
	if !ok || c.Fd != fd {
		return nil, false
	}
	return c, true
}

// rearm hands c back to the kernel. c must not be touched by the caller afterwards.
func (m *ConnManager) rearm(c *Conn, read, write bool) {
	fd := c.Fd
	if err := m.armer.Rearm(fd, read, write); err != nil {
		util.Logger().Warn("rearm failed", zap.Int("fd", fd), zap.Error(err))
		c.Close()
	}
}

func (m *ConnManager) release(c *Conn, fd int) {
	if err := m.armer.UnWatch(fd); err != nil {
		util.Logger().Debug("unwatch failed", zap.Int("fd", fd), zap.Error(err))
	}
	if err := c.sock.Close(); err != nil {
		util.Logger().Debug("close failed", zap.Int("fd", fd), zap.Error(err))
	}
	m.readPool.Put(c.rbuf)
	m.writePool.Put(c.wbuf)
	c.rbuf, c.wbuf = nil, nil
	c.readBuf, c.writeBuf = nil, nil
	m.limiter.Release()
	util.Logger().Debug("connection closed", zap.Int("fd", fd), zap.String("remote", c.RemoteAddr))
}

// throttle charges n sent bytes to the send limiter and returns how long the
// connection has to pause.
func (m *ConnManager) throttle(n int) time.Duration {
	if m.sendLimiter == nil || m.timer == nil || n <= 0 {
		return 0
	}
	if burst := m.sendLimiter.Burst(); n > burst {
		n = burst
	}
	now := time.Now()
	r := m.sendLimiter.ReserveN(now, n)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// resumeAfter schedules a write event for c instead of an epoll re-arm.
func (m *ConnManager) resumeAfter(c *Conn, d time.Duration) {
	at := time.Now().Add(d).UnixNano()
	m.timer.PushTaskAndTick(&engine.Task{
		TimeStamp: at,
		Event: engine.Event{
			Ident:     c.Fd,
			Ev:        engine.OutEventRaw,
			Type:      engine.EV_TYPE_TIMER_DELY,
			TimeStamp: at,
			Flag:      c.flag,
		},
	})
}

// Live returns the number of open client connections.
func (m *ConnManager) Live() int64 {
	return m.limiter.Count()
}

// closeAll tears down every live connection. Only safe once nothing else owns them.
func (m *ConnManager) closeAll() {
	var live []*Conn
	var fds []int
	m.conns.Range(func(fd int, c *Conn) bool {
		if c.Fd == fd {
			live = append(live, c)
		}
		fds = append(fds, fd)
		return false
	})
	for _, c := range live {
		c.Close()
	}
	for _, fd := range fds {
		m.conns.Delete(fd)
	}
}

package httpd

import (
	"bytes"
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

type armCall struct {
	op          string
	fd          int
	read, write bool
}

// fakeArmer records registrations instead of talking to epoll.
type fakeArmer struct {
	mu    sync.Mutex
	calls []armCall
}

func (a *fakeArmer) WatchOneShot(fd int) error {
	a.record(armCall{op: "watch", fd: fd, read: true})
	return nil
}

func (a *fakeArmer) Rearm(fd int, read, write bool) error {
	a.record(armCall{op: "rearm", fd: fd, read: read, write: write})
	return nil
}

func (a *fakeArmer) UnWatch(fd int) error {
	a.record(armCall{op: "unwatch", fd: fd})
	return nil
}

func (a *fakeArmer) record(c armCall) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
}

func (a *fakeArmer) last() armCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return armCall{}
	}
	return a.calls[len(a.calls)-1]
}

// memSocket serves queued input chunks, then EAGAIN. A nil chunk reads as EOF.
// Writes are capped at maxWrite bytes per call and, with stall set, every
// other call fails with EAGAIN.
type memSocket struct {
	in       [][]byte
	out      bytes.Buffer
	maxWrite int
	stall    bool
	writes   int
	closed   bool
}

func (s *memSocket) Read(p []byte) (int, error) {
	if len(s.in) == 0 {
		return 0, unix.EAGAIN
	}
	if s.in[0] == nil {
		return 0, nil
	}
	n := copy(p, s.in[0])
	if n == len(s.in[0]) {
		s.in = s.in[1:]
	} else {
		s.in[0] = s.in[0][n:]
	}
	return n, nil
}

func (s *memSocket) Writev(iovs [][]byte) (int, error) {
	s.writes++
	if s.stall && s.writes%2 == 0 {
		return 0, unix.EAGAIN
	}
	budget := s.maxWrite
	if budget <= 0 {
		budget = int(^uint(0) >> 1)
	}
	n := 0
	for _, iov := range iovs {
		if budget == 0 {
			break
		}
		chunk := iov
		if len(chunk) > budget {
			chunk = chunk[:budget]
		}
		s.out.Write(chunk)
		n += len(chunk)
		budget -= len(chunk)
	}
	return n, nil
}

func (s *memSocket) Close() error {
	s.closed = true
	return nil
}

func newTestManager(t *testing.T, root string) (*ConnManager, *fakeArmer) {
	t.Helper()
	a := &fakeArmer{}
	m := newConnManager(a, managerConfig{
		docRoot:         root,
		pathMax:         4096,
		readBufferSize:  2048,
		writeBufferSize: 1024,
	})
	return m, a
}

func newTestConn(t *testing.T, m *ConnManager, sock *memSocket) *Conn {
	t.Helper()
	if ok, _ := m.limiter.Acquire(); !ok {
		t.Fatal("connection limit reached")
	}
	return m.attach(7, sock, "test")
}

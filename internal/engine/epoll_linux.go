//go:build linux

package engine

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// ErrEvents represents exceptional events that are not read/write, like socket being closed,
	// reading/writing from/to a closed socket, etc.
	ErrEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP

	InEventRaw  = unix.EPOLLIN | unix.EPOLLPRI
	OutEventRaw = unix.EPOLLOUT
)

var (
	// ErrPollerClosed suggest that poller has closed
	ErrPollerClosed = errors.New("poller closed")
)

type Poller struct {
	mu     sync.Mutex // mutex to protect fd closing
	pfd    int        // epoll fd
	efd    int        // eventfd
	efdbuf []byte

	maxEvents int

	// closing signal
	die     chan struct{}
	dieOnce sync.Once
}

func OpenPoll(maxEvents int) (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, efd,
		&unix.EpollEvent{Fd: int32(efd),
			Events: unix.EPOLLIN | unix.EPOLLET,
		},
	); err != nil {
		unix.Close(fd)
		unix.Close(efd)
		return nil, err
	}
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	p := new(Poller)
	p.pfd = fd
	p.efd = efd
	p.efdbuf = make([]byte, 8)
	p.die = make(chan struct{})
	p.maxEvents = maxEvents

	return p, nil
}

// Close the poller
func (p *Poller) Close() error {
	p.dieOnce.Do(func() {
		close(p.die)
	})
	return p.wakeup()
}

// Watch registers a level-triggered read interest, used for listening sockets.
func (p *Poller) Watch(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN)
}

// WatchOneShot registers a client socket for a single read notification.
// The fd stays silent after the event fires until Rearm is called.
func (p *Poller) WatchOneShot(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLONESHOT|unix.EPOLLET)
}

func (p *Poller) UnWatch(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pfd == -1 {
		return ErrPollerClosed
	}
	return unix.EpollCtl(p.pfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{Fd: int32(fd)})
}

// Rearm hands a one-shot fd back to the kernel for exactly the directions given.
func (p *Poller) Rearm(fd int, read bool, write bool) error {
	var flag uint32 = unix.EPOLLONESHOT | unix.EPOLLET | unix.EPOLLRDHUP
	if read {
		flag |= unix.EPOLLIN
	}
	if write {
		flag |= unix.EPOLLOUT
	}
	return p.ctl(unix.EPOLL_CTL_MOD, fd, flag)
}

func (p *Poller) ctl(op int, fd int, events uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pfd == -1 {
		return ErrPollerClosed
	}
	return unix.EpollCtl(p.pfd, op, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// wakeup interrupt epoll_wait
func (p *Poller) wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.efd != -1 {
		var x uint64 = 1
		// eventfd has set with EFD_NONBLOCK
		_, err := unix.Write(p.efd, (*(*[8]byte)(unsafe.Pointer(&x)))[:])
		return err
	}
	return ErrPollerClosed
}

// CloseBlockWait releases the epoll and event fds of a poller whose Wait loop never ran.
func (p *Poller) CloseBlockWait() {
	p.dieOnce.Do(func() {
		close(p.die)
	})
	p.mu.Lock()
	if p.pfd != -1 {
		unix.Close(p.pfd)
		unix.Close(p.efd)
		p.pfd = -1
		p.efd = -1
	}
	p.mu.Unlock()
}

// Wait runs the epoll loop and forwards every ready fd to chEventNotify.
// It returns once the poller is closed or epoll_wait fails.
func (p *Poller) Wait(chEventNotify chan Event) {
	events := make([]unix.EpollEvent, p.maxEvents)
	// close poller fd & eventfd in defer
	defer func() {
		p.mu.Lock()
		unix.Close(p.pfd)
		unix.Close(p.efd)
		p.pfd = -1
		p.efd = -1
		p.mu.Unlock()
	}()
	for {
		select {
		case <-p.die:
			return
		default:
		}
		n, err := unix.EpollWait(p.pfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
		// orders this loop after every Rearm that produced these events
		p.mu.Lock()
		p.mu.Unlock()

		timeNowNano := time.Now().UnixNano()
		for i := 0; i < n; i++ {
			ev := &events[i]
			if int(ev.Fd) == p.efd {
				unix.Read(p.efd, p.efdbuf) // simply consume
				continue
			}
			e := Event{Ident: int(ev.Fd), Type: EV_TYPE_EPOLL, TimeStamp: timeNowNano, Ev: int(ev.Events)}
			select {
			case chEventNotify <- e:
			case <-p.die:
				return
			}
		}
	}
}

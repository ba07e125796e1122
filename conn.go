package httpd

import (
	"github.com/vincentwuo/evhttpd/pkg/util"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// socket is the non-blocking transport under a connection.
type socket interface {
	Read(p []byte) (int, error)
	Writev(iovs [][]byte) (int, error)
	Close() error
}

type fdSocket int

func (s fdSocket) Read(p []byte) (int, error) {
	return unix.Read(int(s), p)
}

func (s fdSocket) Writev(iovs [][]byte) (int, error) {
	return unix.Writev(int(s), iovs)
}

func (s fdSocket) Close() error {
	return unix.Close(int(s))
}

// Conn is one accepted client. Exactly one goroutine works on a Conn at a
// time: whoever received its last one-shot event, until it re-arms or closes it.
type Conn struct {
	Fd         int // -1 once closed
	RemoteAddr string
	sock       socket
	mgr        *ConnManager
	flag       int64 // generation, tells apart connections that reused an fd

	rbuf      *[]byte
	readBuf   []byte
	filled    int // bytes received
	checked   int // bytes classified by parseLine
	lineStart int // start of the line being parsed

	state         checkState
	method        Method
	url           string
	version       string
	host          string
	contentLength int
	keepAlive     bool

	wbuf     *[]byte
	writeBuf []byte
	writeIdx int

	realFile string
	file     *mappedFile

	iov         [2][]byte
	iovCount    int
	bytesToSend int
	bytesSent   int
}

// init resets the per-request state, keeping the socket.
func (c *Conn) init() {
	c.bytesToSend = 0
	c.bytesSent = 0
	c.state = stateRequestLine
	c.keepAlive = false
	c.method = GET
	c.url = ""
	c.version = ""
	c.host = ""
	c.contentLength = 0
	c.lineStart = 0
	c.checked = 0
	c.filled = 0
	c.writeIdx = 0
	c.realFile = ""
	c.iov = [2][]byte{}
	c.iovCount = 0
}

// Read drains the socket into readBuf. It returns false when the peer has
// closed, a fatal error occurred or the buffer was already full.
func (c *Conn) Read() bool {
	if c.filled >= len(c.readBuf) {
		return false
	}
	for c.filled < len(c.readBuf) {
		n, err := c.sock.Read(c.readBuf[c.filled:])
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			util.Logger().Debug("read failed", zap.Int("fd", c.Fd), zap.Error(err))
			return false
		}
		if n == 0 {
			return false
		}
		c.filled += n
	}
	return true
}

// Process is the worker side: parse what has arrived and, once a request is
// complete, build its response and arm the socket for writing.
func (c *Conn) Process() {
	ret := c.processRead()
	if ret == noRequest {
		c.mgr.rearm(c, true, false)
		return
	}
	if ret == getRequest {
		ret = c.doRequest()
	}
	if err := c.processWrite(ret); err != nil {
		util.Logger().Warn("build response failed", zap.Int("fd", c.Fd), zap.String("url", c.url), zap.Error(err))
		c.Close()
		return
	}
	c.mgr.rearm(c, false, true)
}

// Write sends the pending response with writev, resuming at bytesSent.
// It returns false when the connection has to be closed.
func (c *Conn) Write() bool {
	if c.bytesToSend == 0 {
		c.init()
		c.mgr.rearm(c, true, false)
		return true
	}

	for {
		n, err := c.sock.Writev(c.iov[:c.iovCount])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				c.mgr.rearm(c, false, true)
				return true
			}
			util.Logger().Debug("write failed", zap.Int("fd", c.Fd), zap.Error(err))
			c.unmap()
			return false
		}

		c.bytesToSend -= n
		c.bytesSent += n
		c.advance()

		if c.bytesToSend <= 0 {
			c.unmap()
			if !c.keepAlive {
				return false
			}
			c.init()
			c.mgr.rearm(c, true, false)
			return true
		}
		if d := c.mgr.throttle(n); d > 0 {
			c.mgr.resumeAfter(c, d)
			return true
		}
	}
}

// advance slides the write vectors past the bytesSent already written.
func (c *Conn) advance() {
	if c.bytesSent >= c.writeIdx {
		c.iov[0] = nil
		if c.iovCount == 2 && c.file != nil {
			c.iov[1] = c.file.data[c.bytesSent-c.writeIdx:]
		}
		return
	}
	c.iov[0] = c.writeBuf[c.bytesSent:c.writeIdx]
}

// Close tears the connection down. It is safe to call more than once.
func (c *Conn) Close() {
	if c.Fd == -1 {
		return
	}
	fd := c.Fd
	c.Fd = -1
	c.unmap()
	c.mgr.release(c, fd)
}

package httpd

import (
	"strings"

	"github.com/vincentwuo/evhttpd/pkg/util"

	"go.uber.org/zap"
)

// Method is a request verb. Only GET and HEAD are served, the rest are
// recognised so they can be rejected by name.
type Method uint8

const (
	GET Method = iota
	HEAD
	POST
	PUT
	DELETE
	CONNECT
	OPTIONS
	TRACE
	PATCH
	unknownMethod
)

var methodNames = [...]string{"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH"}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "UNKNOWN"
}

func parseMethod(s string) Method {
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i)
		}
	}
	return unknownMethod
}

type checkState uint8

const (
	stateRequestLine checkState = iota
	stateHeaders
	stateBody
)

type lineStatus uint8

const (
	lineOK lineStatus = iota
	lineBad
	lineOpen
)

// httpCode is the outcome of parsing and resolving one request.
type httpCode uint8

const (
	noRequest httpCode = iota // incomplete, wait for more bytes
	getRequest
	badRequest
	noResource
	forbiddenRequest
	fileRequest
	internalError
)

const whitespace = " \t"

// parseLine scans readBuf[checked:filled] for the next CRLF.
func (c *Conn) parseLine() lineStatus {
	buf := c.readBuf
	for ; c.checked < c.filled; c.checked++ {
		switch buf[c.checked] {
		case '\r':
			// a CR on the last byte may still be followed by LF in the next read
			if c.checked+1 == c.filled {
				return lineOpen
			}
			if buf[c.checked+1] == '\n' {
				buf[c.checked] = 0
				buf[c.checked+1] = 0
				c.checked += 2
				return lineOK
			}
			return lineBad
		case '\n':
			if c.checked > c.lineStart && buf[c.checked-1] == '\r' {
				buf[c.checked-1] = 0
				buf[c.checked] = 0
				c.checked++
				return lineOK
			}
			return lineBad
		}
	}
	return lineOpen
}

// processRead drives the main state machine over every complete line in the buffer.
// The body is not line delimited, so once in stateBody only the byte count matters.
func (c *Conn) processRead() httpCode {
	status := lineOK
	for {
		if c.state == stateBody {
			if status != lineOK {
				break
			}
			if c.parseContent() == getRequest {
				return getRequest
			}
			status = lineOpen
			continue
		}
		if status = c.parseLine(); status != lineOK {
			break
		}

		// the two terminator bytes were zeroed by parseLine
		text := string(c.readBuf[c.lineStart : c.checked-2])
		c.lineStart = c.checked
		util.Logger().Debug("got a http line", zap.Int("fd", c.Fd), zap.String("line", text))

		switch c.state {
		case stateRequestLine:
			if ret := c.parseRequestLine(text); ret == badRequest {
				return badRequest
			}
		case stateHeaders:
			switch ret := c.parseHeaders(text); ret {
			case badRequest, getRequest:
				return ret
			}
		default:
			return internalError
		}
	}
	if status == lineBad {
		return badRequest
	}
	return noRequest
}

// parseRequestLine handles "METHOD SP TARGET SP VERSION".
func (c *Conn) parseRequestLine(text string) httpCode {
	i := strings.IndexAny(text, whitespace)
	if i < 0 {
		return badRequest
	}
	c.method = parseMethod(text[:i])
	if c.method != GET && c.method != HEAD {
		return badRequest
	}

	rest := strings.TrimLeft(text[i:], whitespace)
	i = strings.IndexAny(rest, whitespace)
	if i < 0 {
		return badRequest
	}
	url := rest[:i]
	c.version = strings.TrimLeft(rest[i:], whitespace)
	if !strings.EqualFold(c.version, "HTTP/1.1") {
		return badRequest
	}

	if len(url) >= 7 && strings.EqualFold(url[:7], "http://") {
		url = url[7:]
		slash := strings.IndexByte(url, '/')
		if slash < 0 {
			return badRequest
		}
		url = url[slash:]
	}
	if len(url) == 0 || url[0] != '/' {
		return badRequest
	}
	if url == "/" {
		url = "/index.html"
	}
	c.url = url
	c.state = stateHeaders
	return noRequest
}

// parseHeaders handles one header line, or the blank line closing the block.
func (c *Conn) parseHeaders(text string) httpCode {
	if text == "" {
		if c.method == HEAD {
			return getRequest
		}
		if c.contentLength > 0 {
			c.state = stateBody
			return noRequest
		}
		return getRequest
	}

	if v, ok := headerValue(text, "Connection:"); ok {
		c.keepAlive = strings.EqualFold(v, "keep-alive")
	} else if v, ok := headerValue(text, "Content-Length:"); ok {
		c.contentLength = parseDecimal(v)
	} else if v, ok := headerValue(text, "Host:"); ok {
		c.host = v
	} else {
		util.Logger().Debug("unknown header", zap.Int("fd", c.Fd), zap.String("header", text))
	}
	return noRequest
}

// parseContent reports whether the whole declared body is buffered.
func (c *Conn) parseContent() httpCode {
	if c.filled-c.lineStart >= c.contentLength {
		return getRequest
	}
	return noRequest
}

func headerValue(line, name string) (string, bool) {
	if len(line) < len(name) || !strings.EqualFold(line[:len(name)], name) {
		return "", false
	}
	return strings.TrimLeft(line[len(name):], whitespace), true
}

// parseDecimal reads the leading digits of s; anything else yields 0.
func parseDecimal(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
		if n > 1<<31 {
			return 1 << 31
		}
	}
	return n
}

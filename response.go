package httpd

import (
	"errors"
	"strconv"
)

const (
	ok200Title    = "OK"
	error400Title = "Bad Request"
	error400Form  = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	error403Title = "Forbidden"
	error403Form  = "You do not have enough permission to get file from this server.\n"
	error404Title = "Not Found"
	error404Form  = "The requested file was not found on this server.\n"
	error500Title = "Internal Error"
	error500Form  = "There was an unusual problem serving the requested file.\n"
)

// ErrResponseTooLarge is returned when the status line and headers do not fit the write buffer.
var ErrResponseTooLarge = errors.New("response does not fit the write buffer")

// addResponse appends parts to writeBuf, or appends nothing and fails when
// they would not fit.
func (c *Conn) addResponse(parts ...string) bool {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	if c.writeIdx+n > len(c.writeBuf) {
		return false
	}
	for _, p := range parts {
		c.writeIdx += copy(c.writeBuf[c.writeIdx:], p)
	}
	return true
}

func (c *Conn) addStatusLine(status int, title string) bool {
	return c.addResponse("HTTP/1.1 ", strconv.Itoa(status), " ", title, "\r\n")
}

func (c *Conn) addHeaders(contentLength int64) bool {
	return c.addContentLength(contentLength) &&
		c.addContentType() &&
		c.addLinger() &&
		c.addBlankLine()
}

func (c *Conn) addContentLength(contentLength int64) bool {
	return c.addResponse("Content-Length: ", strconv.FormatInt(contentLength, 10), "\r\n")
}

func (c *Conn) addContentType() bool {
	return c.addResponse("Content-Type: text/html\r\n")
}

func (c *Conn) addLinger() bool {
	if c.keepAlive {
		return c.addResponse("Connection: keep-alive\r\n")
	}
	return c.addResponse("Connection: close\r\n")
}

func (c *Conn) addBlankLine() bool {
	return c.addResponse("\r\n")
}

func (c *Conn) addContent(content string) bool {
	if c.method == HEAD {
		return true
	}
	return c.addResponse(content)
}

func (c *Conn) addError(status int, title, form string) bool {
	return c.addStatusLine(status, title) &&
		c.addHeaders(int64(len(form))) &&
		c.addContent(form)
}

// processWrite renders the response for ret and prepares the write vectors.
func (c *Conn) processWrite(ret httpCode) error {
	var ok bool
	switch ret {
	case internalError:
		ok = c.addError(500, error500Title, error500Form)
	case badRequest:
		ok = c.addError(400, error400Title, error400Form)
	case noResource:
		ok = c.addError(404, error404Title, error404Form)
	case forbiddenRequest:
		ok = c.addError(403, error403Title, error403Form)
	case fileRequest:
		if !c.addStatusLine(200, ok200Title) || !c.addHeaders(c.file.size) {
			return ErrResponseTooLarge
		}
		c.iov[0] = c.writeBuf[:c.writeIdx]
		if c.method == HEAD {
			c.unmap()
			c.iovCount = 1
			c.bytesToSend = c.writeIdx
			return nil
		}
		c.iov[1] = c.file.data
		c.iovCount = 2
		c.bytesToSend = c.writeIdx + len(c.file.data)
		return nil
	default:
		return errors.New("unexpected request state " + strconv.Itoa(int(ret)))
	}
	if !ok {
		return ErrResponseTooLarge
	}
	c.iov[0] = c.writeBuf[:c.writeIdx]
	c.iov[1] = nil
	c.iovCount = 1
	c.bytesToSend = c.writeIdx
	return nil
}

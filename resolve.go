package httpd

import (
	"strings"

	"github.com/vincentwuo/evhttpd/pkg/util"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// mappedFile is a read-only mapping of a whole file. A zero-length file has
// no mapping at all but is still a valid, empty body.
type mappedFile struct {
	data []byte
	size int64
}

func mapFile(path string, st *unix.Stat_t) (*mappedFile, error) {
	m := &mappedFile{size: st.Size}
	if st.Size == 0 {
		return m, nil
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	// the mapping outlives the descriptor
	defer unix.Close(fd)
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	m.data = data
	return m, nil
}

// release unmaps the file. Calling it more than once is a no-op.
func (m *mappedFile) release() {
	if m == nil || m.data == nil {
		return
	}
	if err := unix.Munmap(m.data); err != nil {
		util.Logger().Warn("munmap failed", zap.Error(err))
	}
	m.data = nil
}

// doRequest maps the parsed url onto the document root and, for a readable
// regular file, maps it into c.file.
func (c *Conn) doRequest() httpCode {
	if hasDotDot(c.url) {
		return badRequest
	}
	path := c.mgr.docRoot + c.url
	if limit := c.mgr.pathMax - 1; len(path) > limit {
		path = path[:limit]
	}
	c.realFile = path

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return noResource
	}
	if st.Mode&unix.S_IROTH == 0 {
		return forbiddenRequest
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return badRequest
	}

	m, err := mapFile(path, &st)
	if err != nil {
		util.Logger().Warn("map file failed", zap.String("path", path), zap.Error(err))
		return internalError
	}
	c.file = m
	return fileRequest
}

func (c *Conn) unmap() {
	if c.file != nil {
		c.file.release()
		c.file = nil
	}
}

func hasDotDot(url string) bool {
	if !strings.Contains(url, "..") {
		return false
	}
	for _, seg := range strings.Split(url, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

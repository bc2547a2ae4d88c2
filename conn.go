package kvcache

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/skipor/kvcache/cache"
	"github.com/skipor/kvcache/internal/util"
	"github.com/skipor/kvcache/log"
	"github.com/skipor/kvcache/stats"
)

type conn struct {
	*bufio.Reader
	*bufio.Writer
	in     *errRecorder
	closer io.Closer
	log    log.Logger
	*ConnMeta
}

// errRecorder remembers last read error, to distinguish transport
// errors from malformed requests.
type errRecorder struct {
	io.Reader
	err error
}

func (r *errRecorder) Read(p []byte) (n int, err error) {
	n, err = r.Reader.Read(p)
	if err != nil {
		r.err = err
	}
	return
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func newConn(l log.Logger, m *ConnMeta, rwc io.ReadWriteCloser) *conn {
	in := &errRecorder{Reader: rwc}
	return &conn{
		Reader:   bufio.NewReaderSize(in, InBufferSize),
		in:       in,
		Writer:   bufio.NewWriterSize(rwc, OutBufferSize),
		closer:   rwc,
		log:      l,
		ConnMeta: m,
	}
}

func (c *conn) serve() {
	c.log.Debug("Serve connection.")
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Session panic: ", stackerr.Newf("%v", r))
		}
		c.Close()
		c.log.Debug("Connection closed.")
	}()

	err := c.loop()
	if err != nil {
		c.log.Error("Transport error: ", err)
	}
}

func (c *conn) Close() error {
	c.Writer.Flush()
	return c.closer.Close()
}

type response struct {
	status int
	body   string
	header http.Header
	// close is true when connection should be closed after response.
	close bool
}

func (c *conn) loop() error {
	for {
		c.setReadDeadline()
		req, err := http.ReadRequest(c.Reader)
		if err != nil {
			if readErr := c.in.err; readErr != nil {
				if isQuietClose(readErr) {
					c.log.Debug("Session end: ", readErr)
					return nil
				}
				return stackerr.Wrap(readErr)
			}
			c.log.Warn("Malformed HTTP request: ", err)
			res := &response{status: http.StatusBadRequest, body: err.Error(), close: true}
			return c.sendResponse(nil, res)
		}
		started := time.Now()
		res, err := c.handle(req)
		if err != nil {
			return err
		}
		res.close = res.close || req.Close
		err = c.sendResponse(req, res)
		c.Stats.ObserveHistogram(stats.MetricRequestSeconds, time.Since(started).Seconds())
		if err != nil {
			return err
		}
		if res.close {
			c.log.Debug("Close requested.")
			return nil
		}
	}
}

// handle reads request body and dispatches request.
// Returned error is transport error: connection should be closed without response.
func (c *conn) handle(req *http.Request) (*response, error) {
	defer req.Body.Close()
	c.log.Debugf("Request: %s %s.", req.Method, req.RequestURI)
	op, err := methodOp(req.Method)
	if err != nil {
		c.log.Warnf("Unknown method %q.", req.Method)
		return c.clientError(http.StatusBadRequest, err), nil
	}
	c.Stats.IncCounter(stats.MetricRequests(string(op)), 1)
	if req.ContentLength > c.MaxBodySize {
		return c.tooLargeBody(), nil
	}
	body, err := c.readBody(req.Body)
	if err != nil {
		if errors.Cause(err) == ErrTooLargeBody {
			return c.tooLargeBody(), nil
		}
		return nil, err
	}
	r, err := ParseRequest(op, body)
	if err != nil {
		if errors.Cause(err) == ErrUnknownTarget {
			c.log.Warn("Not found: ", err)
			return &response{status: http.StatusNotFound}, nil
		}
		return c.clientError(http.StatusBadRequest, err), nil
	}
	return c.dispatch(&r), nil
}

// tooLargeBody rejects request and closes connection after response.
// 413 is reserved for entries exceeding cache capacity.
func (c *conn) tooLargeBody() *response {
	c.log.Warnf("Request body exceeds limit %v.", c.MaxBodySize)
	res := c.clientError(http.StatusBadRequest, ErrTooLargeBody)
	res.close = true
	return res
}

func (c *conn) readBody(body io.Reader) (string, error) {
	var b strings.Builder
	n, err := io.Copy(&b, io.LimitReader(body, c.MaxBodySize+1))
	if err != nil {
		return "", stackerr.Wrap(err)
	}
	if n > c.MaxBodySize {
		return "", errors.Wrapf(ErrTooLargeBody, "more than %v bytes", c.MaxBodySize)
	}
	return b.String(), nil
}

func (c *conn) dispatch(r *Request) *response {
	res := &response{status: http.StatusOK}
	switch r.Op {
	case OpSet:
		err := c.Cache.Set(r.Key, r.Value, r.Size)
		if err != nil {
			return c.setError(r, err)
		}
		c.updateSpaceUsed()
	case OpGet:
		value, size, ok := c.Cache.Get(r.Key)
		if !ok {
			c.Stats.IncCounter(stats.MetricMisses, 1)
			res.body = NullResponse
			return res
		}
		c.Stats.IncCounter(stats.MetricHits, 1)
		res.body = encodeGetBody(r.Key, value, size)
	case OpDelete:
		deleted := c.Cache.Delete(r.Key)
		res.body = boolBody(deleted)
		c.updateSpaceUsed()
	case OpReset:
		c.Cache.Reset()
		c.updateSpaceUsed()
	case OpSpaceUsed:
		res.header = http.Header{
			HeaderSpaceUsed: {strconv.FormatInt(c.Cache.SpaceUsed(), 10)},
			"Accept":        {"/k/v"},
			"Content-Type":  {"application/json"},
		}
	default:
		c.log.Panicf("unexpected op %q", r.Op)
	}
	return res
}

func (c *conn) setError(r *Request, err error) *response {
	var status int
	switch errors.Cause(err) {
	case cache.ErrTooLarge:
		status = http.StatusRequestEntityTooLarge
	case cache.ErrNoSpace:
		status = http.StatusInsufficientStorage
	case cache.ErrInvalidSize:
		return c.clientError(http.StatusBadRequest, err)
	default:
		c.log.Errorf("Set %q of size %v failed: %v", r.Key, r.Size, err)
		return &response{status: http.StatusInternalServerError, body: err.Error()}
	}
	c.log.Debugf("Set %q of size %v rejected: %v", r.Key, r.Size, err)
	c.Stats.IncCounter(stats.MetricRejections, 1)
	return &response{status: status, body: err.Error()}
}

func (c *conn) clientError(status int, err error) *response {
	c.log.Warn("Client error: ", err)
	return &response{status: status, body: util.Unwrap(err).Error()}
}

func (c *conn) updateSpaceUsed() {
	c.Stats.SetGauge(stats.MetricSpaceUsed, c.Cache.SpaceUsed())
}

// sendResponse writes res and flushes. Request is nil, if it was not parsed.
func (c *conn) sendResponse(req *http.Request, res *response) error {
	header := res.header
	if header == nil {
		header = make(http.Header, 2)
	}
	header.Set("Server", ServerName)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/plain")
	}
	hr := &http.Response{
		StatusCode:    res.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		ContentLength: int64(len(res.body)),
		Close:         res.close,
		Request:       req,
	}
	if res.body != "" {
		hr.Body = io.NopCloser(strings.NewReader(res.body))
	}
	c.setWriteDeadline()
	err := hr.Write(c.Writer)
	if err != nil {
		return stackerr.Wrap(err)
	}
	return c.Flush()
}

func (c *conn) Flush() error {
	return stackerr.Wrap(c.Writer.Flush())
}

func (c *conn) setReadDeadline() {
	d, ok := c.closer.(readDeadliner)
	if !ok || c.IdleTimeout <= 0 {
		return
	}
	d.SetReadDeadline(time.Now().Add(c.IdleTimeout))
}

// setWriteDeadline bounds time peer may not read responses.
func (c *conn) setWriteDeadline() {
	d, ok := c.closer.(writeDeadliner)
	if !ok || c.IdleTimeout <= 0 {
		return
	}
	d.SetWriteDeadline(time.Now().Add(c.IdleTimeout))
}

func isQuietClose(err error) bool {
	if err == io.EOF {
		return true
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

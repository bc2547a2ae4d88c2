package kvcache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/skipor/kvcache/cache"
	"github.com/skipor/kvcache/internal/util"
)

// TransportError is network failure during request. Connection is closed after
// such error, and next request redials server.
type TransportError struct {
	Op  Op
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kvcache: %s: transport: %v", e.Op, util.Unwrap(e.Err))
}

func (e *TransportError) Underlying() error { return e.Err }
func (e *TransportError) Unwrap() error     { return e.Err }

// ProtocolError is unexpected server response.
type ProtocolError struct {
	Op     Op
	Status int
	Msg    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("kvcache: %s: protocol: status %v: %s", e.Op, e.Status, e.Msg)
}

// Client is connection to kvcache server. Not safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	dial    func() (net.Conn, error)

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, 0)
}

// DialTimeout connects to server at addr. Zero timeout means no timeout.
// Timeout is also used for redial after transport errors.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	c := &Client{
		addr:    addr,
		timeout: timeout,
	}
	c.dial = func() (net.Conn, error) {
		return net.DialTimeout("tcp", c.addr, c.timeout)
	}
	err := c.connect()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return c, nil
}

// newClient creates client over established connection. Client does not redial.
func newClient(addr string, conn net.Conn) *Client {
	c := &Client{
		addr: addr,
		dial: func() (net.Conn, error) { return nil, errors.New("redial is not supported") },
	}
	c.setConn(conn)
	return c
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return stackerr.Wrap(err)
	}
	c.setConn(conn)
	return nil
}

func (c *Client) setConn(conn net.Conn) {
	c.conn = conn
	c.r = bufio.NewReaderSize(conn, InBufferSize)
	c.w = bufio.NewWriterSize(conn, OutBufferSize)
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Set stores value with size. Returns cache.ErrTooLarge or cache.ErrNoSpace, if server rejected entry,
// and ErrTooLargeBody, if encoded request exceeds server body limit.
func (c *Client) Set(key string, value []byte, size int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if size < 0 {
		return cache.ErrInvalidSize
	}
	status, body, _, err := c.do(&Request{Op: OpSet, Key: key, Value: value, Size: size})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusRequestEntityTooLarge:
		return cache.ErrTooLarge
	case http.StatusInsufficientStorage:
		return cache.ErrNoSpace
	case http.StatusBadRequest:
		if body == ErrTooLargeBody.Error() {
			return ErrTooLargeBody
		}
	}
	return &ProtocolError{Op: OpSet, Status: status, Msg: body}
}

// Get returns value and size of entry. Miss is not an error: ok is false in such case.
func (c *Client) Get(key string) (value []byte, size int64, ok bool, err error) {
	if key == "" {
		err = ErrEmptyKey
		return
	}
	status, body, _, err := c.do(&Request{Op: OpGet, Key: key})
	if err != nil {
		return
	}
	if status != http.StatusOK {
		err = &ProtocolError{Op: OpGet, Status: status, Msg: body}
		return
	}
	var gotKey string
	gotKey, value, size, ok, err = decodeGetBody(body)
	if err != nil {
		err = &ProtocolError{Op: OpGet, Status: status, Msg: err.Error()}
		return
	}
	if ok && gotKey != key {
		value, size, ok = nil, 0, false
		err = &ProtocolError{Op: OpGet, Status: status, Msg: fmt.Sprintf("requested key %q, got %q", key, gotKey)}
	}
	return
}

func (c *Client) Delete(key string) (deleted bool, err error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	status, body, _, err := c.do(&Request{Op: OpDelete, Key: key})
	if err != nil {
		return
	}
	if status != http.StatusOK {
		return false, &ProtocolError{Op: OpDelete, Status: status, Msg: body}
	}
	deleted, err = parseBoolBody(body)
	if err != nil {
		err = &ProtocolError{Op: OpDelete, Status: status, Msg: err.Error()}
	}
	return
}

func (c *Client) SpaceUsed() (int64, error) {
	status, body, header, err := c.do(&Request{Op: OpSpaceUsed})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, &ProtocolError{Op: OpSpaceUsed, Status: status, Msg: body}
	}
	used, err := strconv.ParseInt(header.Get(HeaderSpaceUsed), 10, 64)
	if err != nil {
		return 0, &ProtocolError{Op: OpSpaceUsed, Status: status, Msg: err.Error()}
	}
	return used, nil
}

func (c *Client) Reset() error {
	status, body, _, err := c.do(&Request{Op: OpReset})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &ProtocolError{Op: OpReset, Status: status, Msg: body}
	}
	return nil
}

// do sends request and reads response. On transport error connection is closed.
func (c *Client) do(r *Request) (status int, body string, header http.Header, err error) {
	if c.conn == nil {
		err = c.connect()
		if err != nil {
			err = &TransportError{Op: r.Op, Err: err}
			return
		}
	}
	status, body, header, err = c.roundTrip(r)
	if err != nil {
		c.Close()
		err = &TransportError{Op: r.Op, Err: err}
	}
	return
}

func (c *Client) roundTrip(r *Request) (status int, body string, header http.Header, err error) {
	req := &http.Request{
		Method:     r.Op.Method(),
		URL:        &url.URL{Scheme: "http", Host: c.addr, Opaque: r.Target()},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"User-Agent": {ServerName}},
		Host:       c.addr,
	}
	if r.Op != OpSpaceUsed {
		reqBody := r.Body()
		req.Body = io.NopCloser(strings.NewReader(reqBody))
		req.ContentLength = int64(len(reqBody))
	}
	err = req.Write(c.w)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	res, err := http.ReadResponse(c.r, req)
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	defer res.Body.Close()
	var b strings.Builder
	_, err = io.Copy(&b, res.Body)
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	if res.Close {
		// Server closes connection after this response.
		c.Close()
	}
	return res.StatusCode, b.String(), res.Header, nil
}

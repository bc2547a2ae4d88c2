package kvcache

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 3618
	DefaultIdleTimeout = 30 * time.Second
	DefaultMaxBodySize = 16 * (1 << 20)

	ServerName = "kvcache"

	HeaderSpaceUsed = "Space-Used"

	NullResponse          = "NULL"
	TrueResponse          = "True"
	FalseResponse         = "False"
	UnknownMethodResponse = "Unknown HTTP-method"

	ResetTarget = "reset"

	// Implementation specific consts.
	InBufferSize  = 16 * (1 << 10)
	OutBufferSize = 16 * (1 << 10)
)

// Op is cache operation carried by request.
type Op string

const (
	OpSet       Op = "set"
	OpGet       Op = "get"
	OpDelete    Op = "delete"
	OpReset     Op = "reset"
	OpSpaceUsed Op = "space_used"
)

var (
	ErrMalformedBody = errors.New("malformed request body")
	ErrEmptyKey      = errors.New("empty key")
	ErrUnknownTarget = errors.New("unknown target")
	ErrUnknownMethod = errors.New(UnknownMethodResponse)
	ErrTooLargeBody  = errors.New("too large request body")
)

var methodToOp = map[string]Op{
	http.MethodPut:    OpSet,
	http.MethodGet:    OpGet,
	http.MethodDelete: OpDelete,
	http.MethodPost:   OpReset,
	http.MethodHead:   OpSpaceUsed,
}

var opToMethod = func() map[Op]string {
	res := make(map[Op]string, len(methodToOp))
	for m, op := range methodToOp {
		res[op] = m
	}
	return res
}()

func methodOp(method string) (Op, error) {
	op, ok := methodToOp[method]
	if !ok {
		return "", ErrUnknownMethod
	}
	return op, nil
}

func (op Op) Method() string { return opToMethod[op] }

// fieldsNum returns number of '/' separated body fields of op.
func (op Op) fieldsNum() int {
	switch op {
	case OpSet:
		return 3
	case OpSpaceUsed:
		return 0
	}
	return 1
}

// Request is decoded cache request. Only fields used by Op are meaningful.
type Request struct {
	Op    Op
	Key   string
	Value []byte
	Size  int64
}

// Body encodes request as "/<key>/<value>/<size>" with fields count depending on Op.
// Key and value are path escaped, so they may contain any bytes.
func (r *Request) Body() string {
	switch r.Op {
	case OpSet:
		return "/" + url.PathEscape(r.Key) + "/" + url.PathEscape(string(r.Value)) + "/" + strconv.FormatInt(r.Size, 10)
	case OpGet, OpDelete:
		return "/" + url.PathEscape(r.Key)
	case OpReset:
		return "/" + ResetTarget
	}
	return ""
}

// Target is HTTP request target. It mirrors body, but only body is decoded by server.
func (r *Request) Target() string {
	if b := r.Body(); b != "" {
		return b
	}
	return "/"
}

// ParseRequest decodes request body of op. Any deviation from expected format is an error.
// ErrUnknownTarget cause means well formed reset request with unknown target.
func ParseRequest(op Op, body string) (r Request, err error) {
	r.Op = op
	n := op.fieldsNum()
	if n == 0 {
		return
	}
	if !strings.HasPrefix(body, "/") {
		err = errors.Wrap(ErrMalformedBody, "body should start with '/'")
		return
	}
	fields := strings.Split(body[1:], "/")
	if len(fields) != n {
		err = errors.Wrapf(ErrMalformedBody, "%v request expects %v fields, got %v", op, n, len(fields))
		return
	}
	if op == OpReset {
		if fields[0] != ResetTarget {
			err = errors.Wrapf(ErrUnknownTarget, "%q", fields[0])
		}
		return
	}
	r.Key, err = parseKey(fields[0])
	if err != nil || op != OpSet {
		return
	}
	var value string
	value, err = url.PathUnescape(fields[1])
	if err != nil {
		err = errors.Wrapf(ErrMalformedBody, "value: %v", err)
		return
	}
	r.Value = []byte(value)
	r.Size, err = parseSize(fields[2])
	return
}

func parseKey(field string) (string, error) {
	key, err := url.PathUnescape(field)
	if err != nil {
		return "", errors.Wrapf(ErrMalformedBody, "key: %v", err)
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

func parseSize(field string) (int64, error) {
	size, err := strconv.ParseInt(field, 10, 64)
	if err != nil || size < 0 {
		return 0, errors.Wrapf(ErrMalformedBody, "size %q is not a non-negative integer", field)
	}
	return size, nil
}

// getBodyFields is get response body split by '"'. Empty strings are placeholders for escaped fields.
var getBodyFields = [...]string{"", "key", ": ", "", ", ", "value", ": ", "", ", ", "size", ": ", "", ""}

const (
	getBodyKey   = 3
	getBodyValue = 7
	getBodySize  = 11
)

// encodeGetBody encodes hit as `"key": "<key>", "value": "<value>", "size": "<size>"`.
func encodeGetBody(key string, value []byte, size int64) string {
	return `"key": "` + url.PathEscape(key) +
		`", "value": "` + url.PathEscape(string(value)) +
		`", "size": "` + strconv.FormatInt(size, 10) + `"`
}

// decodeGetBody is inverse of encodeGetBody. NullResponse decodes as miss.
func decodeGetBody(body string) (key string, value []byte, size int64, ok bool, err error) {
	if body == NullResponse {
		return
	}
	parts := strings.Split(body, `"`)
	if len(parts) != len(getBodyFields) {
		err = errors.Errorf("get response: unexpected format %q", body)
		return
	}
	for i, p := range getBodyFields {
		if p == "" && i != 0 && i != len(getBodyFields)-1 {
			continue
		}
		if parts[i] != p {
			err = errors.Errorf("get response: unexpected format %q", body)
			return
		}
	}
	key, err = url.PathUnescape(parts[getBodyKey])
	if err != nil {
		err = errors.Wrap(err, "get response key")
		return
	}
	var v string
	v, err = url.PathUnescape(parts[getBodyValue])
	if err != nil {
		err = errors.Wrap(err, "get response value")
		return
	}
	value = []byte(v)
	size, err = strconv.ParseInt(parts[getBodySize], 10, 64)
	if err != nil {
		err = errors.Wrap(err, "get response size")
		return
	}
	ok = true
	return
}

func boolBody(b bool) string {
	if b {
		return TrueResponse
	}
	return FalseResponse
}

func parseBoolBody(body string) (bool, error) {
	switch body {
	case TrueResponse:
		return true, nil
	case FalseResponse:
		return false, nil
	}
	return false, errors.Errorf("delete response: unexpected body %q", body)
}

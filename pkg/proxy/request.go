package proxy

import (
	"bufio"
	"errors"
	"strconv"
	"strings"
)

// Limits bounds what the request reader will accept. Zero values fall back
// to the package defaults, which match the gateway's configuration defaults.
type Limits struct {
	// MaxRequestLineSize is the longest accepted request line in bytes.
	MaxRequestLineSize int

	// MaxHeaders is the most header fields accepted per request.
	MaxHeaders int

	// MaxHeaderLineSize is the longest accepted header line in bytes.
	MaxHeaderLineSize int

	// MaxBodySize is the largest accepted declared Content-Length.
	// 0 means unlimited.
	MaxBodySize int64
}

// Default protocol-boundary limits.
const (
	DefaultMaxRequestLineSize = 8192
	DefaultMaxHeaders         = 64
	DefaultMaxHeaderLineSize  = 8192
	DefaultMaxBodySize        = 10 * 1024 * 1024
)

func (l Limits) withDefaults() Limits {
	if l.MaxRequestLineSize <= 0 {
		l.MaxRequestLineSize = DefaultMaxRequestLineSize
	}
	if l.MaxHeaders <= 0 {
		l.MaxHeaders = DefaultMaxHeaders
	}
	if l.MaxHeaderLineSize <= 0 {
		l.MaxHeaderLineSize = DefaultMaxHeaderLineSize
	}
	return l
}

// Header is one request header field. The original name casing is kept so
// forwarded headers reach the backend exactly as the client sent them.
type Header struct {
	Name  string
	Value string
}

// Request is a parsed HTTP/1.1 request head. The body is deliberately left
// unread on the connection's reader: the engine streams it to the backend,
// and oversized bodies are rejected from the declared length alone.
type Request struct {
	Method string
	Target string
	Proto  string

	// Headers preserves the client's field order.
	Headers []Header

	// ContentLength is the declared body length, 0 when absent.
	ContentLength int64
}

// Header returns the first value of the named field, matched
// case-insensitively, or "" when absent.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ReadRequest parses the request line and header block from br, enforcing
// limits as it reads. A line that grows past its bound is rejected without
// consuming the rest of it, and a declared Content-Length over the body
// limit is rejected without reading any body bytes.
//
// Errors of type *ProtocolError carry the status and code to answer with;
// any other error means the client vanished or sent garbage mid-line. When
// a *ProtocolError is returned after the request line parsed, the partial
// request comes back with it, headers read so far included, so the caller
// can still evaluate CORS for the rejection response.
func ReadRequest(br *bufio.Reader, limits Limits) (*Request, error) {
	limits = limits.withDefaults()

	line, err := readLine(br, limits.MaxRequestLineSize)
	if errors.Is(err, errLineTooLong) {
		return nil, ErrRequestLineTooLong
	}
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, ErrMalformedRequest
	}
	req := &Request{Method: parts[0], Target: parts[1], Proto: parts[2]}

	for {
		hline, err := readLine(br, limits.MaxHeaderLineSize)
		if errors.Is(err, errLineTooLong) {
			return req, ErrHeaderLineTooLong
		}
		if err != nil {
			return req, err
		}
		if hline == "" {
			break
		}
		if len(req.Headers) >= limits.MaxHeaders {
			return req, ErrTooManyHeaders
		}
		name, value, ok := strings.Cut(hline, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return req, ErrMalformedRequest
		}
		req.Headers = append(req.Headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}

	if cl := req.Header("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return req, ErrBadContentLength
		}
		if limits.MaxBodySize > 0 && n > limits.MaxBodySize {
			return req, ErrBodyTooLarge
		}
		req.ContentLength = n
	}

	return req, nil
}

var errLineTooLong = errors.New("line exceeds limit")

// readLine reads one LF-terminated line of at most max bytes, with the
// CRLF terminator excluded from the count. Reading byte by byte keeps the
// limit exact: at most one byte past the bound is ever consumed.
func readLine(br *bufio.Reader, max int) (string, error) {
	var b strings.Builder
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '\n' {
			break
		}
		b.WriteByte(c)
		// +1 allows for a trailing CR, checked after the strip below.
		if b.Len() > max+1 {
			return "", errLineTooLong
		}
	}
	line := strings.TrimSuffix(b.String(), "\r")
	if len(line) > max {
		return "", errLineTooLong
	}
	return line, nil
}

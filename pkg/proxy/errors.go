package proxy

import "fmt"

// ProtocolError describes a request rejected at the protocol boundary,
// before any authentication or backend work. Status and Code map directly
// onto the response the handler writes.
type ProtocolError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Protocol-boundary rejections. Each is answered with the JSON error
// envelope and Connection: close.
var (
	ErrRequestLineTooLong = &ProtocolError{Status: 414, Code: "uri_too_long", Message: "request line exceeds maximum length"}
	ErrMalformedRequest   = &ProtocolError{Status: 400, Code: "bad_request", Message: "malformed request"}
	ErrTooManyHeaders     = &ProtocolError{Status: 431, Code: "header_fields_too_large", Message: "too many header fields"}
	ErrHeaderLineTooLong  = &ProtocolError{Status: 431, Code: "header_fields_too_large", Message: "header line exceeds maximum length"}
	ErrBadContentLength   = &ProtocolError{Status: 400, Code: "bad_request", Message: "invalid Content-Length header"}
	ErrBodyTooLarge       = &ProtocolError{Status: 413, Code: "payload_too_large", Message: "request body exceeds maximum size"}
)

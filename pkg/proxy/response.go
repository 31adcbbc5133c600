package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"llamagate/llamagate/pkg/cors"
)

// statusText covers the status codes the gateway emits itself. Backend
// status lines pass through verbatim and never consult this table.
var statusText = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	401: "Unauthorized",
	413: "Payload Too Large",
	414: "URI Too Long",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// StatusText returns the reason phrase for a gateway-emitted status.
func StatusText(status int) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	return "Unknown"
}

// ErrorBody is the payload of the JSON error envelope:
// {"error":{"message","type","param","code"}}.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// WriteResponse writes a complete gateway-generated response: status line,
// standard headers, any CORS lines, optional extras, and the body. Every
// gateway response closes the connection.
func WriteResponse(w io.Writer, status int, contentType string, corsLines []cors.HeaderLine, extra []Header, body []byte) error {
	var head []byte
	head = fmt.Appendf(head, "HTTP/1.1 %d %s\r\n", status, StatusText(status))
	if contentType != "" {
		head = fmt.Appendf(head, "Content-Type: %s\r\n", contentType)
	}
	head = fmt.Appendf(head, "Content-Length: %d\r\n", len(body))
	for _, h := range corsLines {
		head = fmt.Appendf(head, "%s: %s\r\n", h.Name, h.Value)
	}
	for _, h := range extra {
		head = fmt.Appendf(head, "%s: %s\r\n", h.Name, h.Value)
	}
	head = append(head, "Connection: close\r\n\r\n"...)

	if _, err := w.Write(head); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// WriteError writes the JSON error envelope for a gateway-generated
// failure. retryAfter > 0 adds a Retry-After header.
func WriteError(w io.Writer, status int, body ErrorBody, corsLines []cors.HeaderLine, retryAfter int) error {
	payload, err := json.Marshal(errorEnvelope{Error: body})
	if err != nil {
		return fmt.Errorf("encoding error envelope: %w", err)
	}

	var extra []Header
	if retryAfter > 0 {
		extra = append(extra, Header{"Retry-After", strconv.Itoa(retryAfter)})
	}
	return WriteResponse(w, status, "application/json", corsLines, extra, payload)
}

// WriteProtocolError answers a protocol-boundary rejection. Limit
// responses carry CORS headers like any other gateway response, so
// browser clients can read the error body.
func WriteProtocolError(w io.Writer, perr *ProtocolError, corsLines []cors.HeaderLine) error {
	return WriteError(w, perr.Status, ErrorBody{
		Message: perr.Message,
		Type:    "invalid_request_error",
		Code:    perr.Code,
	}, corsLines, 0)
}

// WriteJSON writes a 200 response with a JSON body.
func WriteJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding response body: %w", err)
	}
	return WriteResponse(w, 200, "application/json", nil, nil, payload)
}

// WriteNoContent answers an OPTIONS preflight: 204 plus whatever CORS
// lines apply, possibly none.
func WriteNoContent(w io.Writer, corsLines []cors.HeaderLine) error {
	var head []byte
	head = append(head, "HTTP/1.1 204 No Content\r\n"...)
	for _, h := range corsLines {
		head = fmt.Appendf(head, "%s: %s\r\n", h.Name, h.Value)
	}
	head = append(head, "Connection: close\r\n\r\n"...)
	_, err := w.Write(head)
	return err
}

// Package proxy implements the gateway's wire protocol: parsing one
// HTTP/1.1 request per connection, enforcing protocol-boundary limits,
// and streaming the backend's response to the client.
//
// The gateway speaks raw HTTP/1.1 over TCP rather than net/http because
// the protocol limits are defined at the byte level. Oversized request
// lines, header blocks, and declared bodies must be rejected before the
// offending bytes are consumed, and response bytes from the backend must
// pass through unmodified apart from spliced CORS header lines. net/http
// normalizes headers and buffers in ways that would hide exactly the
// boundary this package exists to control.
//
// The package is split into:
//
//   - Request parsing (ReadRequest): request line and header block with
//     per-line length bounds, header count bounds, and Content-Length
//     validation against the body limit.
//   - Response writing: raw status lines and the JSON error envelope
//     shared by all gateway-generated errors.
//   - Engine: the forwarding path. Dials the backend fresh for every
//     admitted request, rewrites hop-by-hop headers, splices CORS lines
//     into the response head, and streams the body in fixed-size chunks
//     with a per-read deadline so open-ended token streams survive.
//   - Handler: the per-connection orchestrator routing between the
//     operational endpoints and the authenticated, gated proxy path.
package proxy

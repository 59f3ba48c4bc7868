// Package httptransport provides HTTP/TLS transport for WSMan communication.
//
// The transport layer handles:
//   - HTTP/HTTPS connections
//   - TLS configuration
//   - Request/response handling
package httptransport

// Package middleware provides HTTP middleware components for the syncstore API.
//
//   - recovery.go: Panic recovery middleware
//   - logging.go: Request logging middleware
//   - body_limit.go: Request body size limiting middleware
//   - request_id.go: Request ID generation and tracking middleware
//   - metrics.go: HTTP metrics collection middleware
//
// All middleware follows the standard pattern: func(http.Handler) http.Handler,
// so it plugs into chi's router.Use.
package middleware

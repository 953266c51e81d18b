// Package api exposes the chat and research gateways over HTTP.
//
// Endpoints:
//   - POST /api/v1/chat            - Synchronous story chat (JSON)
//   - POST /api/v1/chat/stream     - Streaming story chat (SSE)
//   - POST /api/v1/research        - Synchronous deep research (JSON)
//   - POST /api/v1/research/stream - Streaming deep research (SSE)
//   - GET  /api/v1/questions       - Most asked research questions
//   - GET  /health                 - Liveness probe
//   - GET  /ready                  - Readiness probe (checks Postgres)
//
// All /api/v1 routes pass through the middleware stack, outermost first:
// recovery, request id, logging, CORS, per-IP rate limit. The HTTP
// rate limiter here is a cheap per-IP flood guard; the daily generation
// budget is enforced separately by the gateway on cache misses, so cached
// answers stay free.
package api

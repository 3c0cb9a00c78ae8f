// Package http implements the local bridge API the presentation layer uses
// to drive the license engine.
//
// Handlers are thin: they bind and validate the request, call the engine
// through a narrow interface and render the result. Failures are written as
// RFC 7807 problem details by the shared error handler:
//
//	{
//	    "type": "/errors/license/invalid",
//	    "title": "Unprocessable Entity",
//	    "status": 422,
//	    "detail": "Invalid serial key.",
//	    "instance": "/api/license/serial-key",
//	    "error_code": "INVALID_SERIAL_KEY"
//	}
//
// # Endpoints
//
//	GET  /api/health               liveness and engine state
//	GET  /api/license/status       engine status snapshot
//	POST /api/license/serial-key   offer a new serial key
//	POST /api/license/activate     start an activation round trip (202)
//	GET  /api/license/version-url  edition specific version check URL
//	GET  /api/features             licensed feature availability
//	POST /api/features/clamp       clamp toggles to the license
//	POST /api/logs                 presentation layer log forwarding
//	GET  /api/events               websocket event stream
//	GET  /metrics                  Prometheus scrape endpoint
//
// Activation outcomes are asynchronous. POST /api/license/activate answers
// 202 once the request is sent; activation_succeeded or activation_failed
// follows on the event stream.
//
// Serial key and activation mutations are refused with 409 while the engine
// is disabled.
package http

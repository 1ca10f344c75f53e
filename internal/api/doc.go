// Package api exposes a deskpilot agent over HTTP and WebSocket.
//
// Clients submit action sequences, inspect the execution history and the
// persisted run log, cancel runs and follow results live over WebSocket.
//
// # Endpoints
//
//	GET    /api/v1/health                 liveness and dependency health
//	GET    /api/v1/metrics                runtime and executor statistics
//	POST   /api/v1/sequences/execute      run a sequence (sync, or async=true)
//	GET    /api/v1/history                ?last=n&failed=true
//	GET    /api/v1/history/summary
//	DELETE /api/v1/history
//	GET    /api/v1/runs                   ?limit=n
//	GET    /api/v1/runs/active
//	GET    /api/v1/runs/{id}
//	POST   /api/v1/runs/{id}/cancel
//	GET    /api/v1/watchers
//	GET    /api/v1/ws                     channels: results, runs, watchers
//
// When api.auth_token is set every route except health requires
// "Authorization: Bearer <token>"; the WebSocket also accepts ?token=.
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

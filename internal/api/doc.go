// Package api provides the admin HTTP API of the broker sync service.
//
// It exposes credential and access rule management, the sync status and a
// sync trigger, and the audit trail. All routes except /api/v1/health
// require the configured bearer token when one is set.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

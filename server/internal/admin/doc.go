// Package admin serves the gRPC admin endpoint of viewertrack-server.
//
// The only service is the standard grpc.health.v1.Health, reporting SERVING
// for "" and "viewertrack" while the process runs and NOT_SERVING once
// shutdown begins. When an API key is configured, unary and streaming calls
// must send it in the configured metadata header (default "x-api-key") or
// fail with codes.Unauthenticated.
package admin

// Package observability provides structured logging for the image gateway.
//
// Every service receives a *zap.Logger built once at process start. Request
// IDs assigned by the router middleware are attached with WithRequestID.
package observability

// Package api handles incoming HTTP requests, request validation, and
// response formatting. It acts as an adapter between external clients and
// the orchestration service, translating HTTP concerns (path params, JSON
// bodies, the error taxonomy, rate-limit headers) to business operations.
package api

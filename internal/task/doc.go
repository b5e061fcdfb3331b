// Package task runs generation work in the background. A bounded worker
// pool consumes dispatched jobs, drives the external engine and packager,
// and records every lifecycle transition in the task store.
package task

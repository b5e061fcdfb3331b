// Package store defines the persistence contracts for the task registry and
// the shared database plumbing used by its implementations. Concrete stores
// live under internal/platform.
package store

// Package service implements the orchestration façade between the REST
// boundary and the task machinery. Every mutating operation runs the same
// admission sequence (credential check, then quota charge) before touching
// the store; task creation hands off to the executor through the event
// emitter, and packaging runs on the executor pool.
package service

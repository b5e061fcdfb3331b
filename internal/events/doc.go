// Package events provides the event types and emitter used to decouple task
// creation from task dispatch. The orchestration service emits a scheduling
// event after persisting a task; the application wiring registers a handler
// that hands the task to the executor.
package events

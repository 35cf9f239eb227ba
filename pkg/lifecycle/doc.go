// Package lifecycle provides the relay's lifecycle state machine and the
// reconnect backoff used by the upstream link.
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// # Backoff
//
// [Backoff] doubles a base delay up to a cap for every consecutive failure and
// optionally applies jitter. It never gives up; the owner decides when to stop
// retrying by canceling the context passed to [Backoff.Wait].
package lifecycle

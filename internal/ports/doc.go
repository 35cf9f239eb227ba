// Package ports defines the interfaces between the relay engine and the
// collaborators it does not own.
//
// # Port Interfaces
//
//   - [Answerer]: the AI service that answers intercepted commands
//   - [Bridge]: a chat platform that receives answers and injects text
//   - [Journal]: durable record of intercepted commands
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// Every collaborator is optional. The engine checks for nil and degrades only
// the feature that depends on it.
package ports

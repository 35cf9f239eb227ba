// Package domain contains the core types shared by the relay engine.
//
// It has no dependencies on networking, logging or storage and holds only
// value types, invariants and the error taxonomy.
//
// # Entities
//
//   - [Origin]: where a packet entered the relay (a client session, the upstream
//     gateway or the chat bridge)
//   - [PendingCommand]: an intercepted trigger command awaiting its answer
//   - [CommandRecord]: the journal entry written when a command completes
//
// # Errors
//
// Per-connection failures ([TransientLinkError], [ClientIOError]) and collaborator
// failures ([CollaboratorError]) are contained at their boundary. Only
// [ConfigurationError] is fatal.
package domain

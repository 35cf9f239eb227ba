// Package mesh decodes and encodes the subset of the Meshtastic ToRadio and
// FromRadio envelopes needed to relay traffic and recognise text messages.
//
// Only MeshPacket routing fields (from, to, channel, id, hop_limit, want_ack) and
// the Data sub-message (portnum, payload) are modelled. Every other field is
// skipped on decode, so envelopes carrying configuration, node info or queue
// status decode as [KindOther] and are relayed untouched by callers that keep
// the original frame bytes.
package mesh

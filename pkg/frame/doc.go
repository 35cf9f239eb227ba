// Package frame implements the stream framing used on Meshtastic TCP links.
//
// Wire format:
//
//	[0x94][0xC3][length:2B big-endian][payload:length bytes]
//
// The [Decoder] keeps residual bytes between reads so frames split across TCP
// segments decode the same as contiguous input. Bytes that do not start a valid
// header are skipped until the next start marker. A header announcing more than
// [MaxPayload] bytes, or one whose payload is not followed by another start
// marker, is reported as [MalformedFrameError] and decoding resumes at the
// next marker after it. Frames are expected back to back: a frame followed by
// stray bytes in the same read is treated as malformed.
package frame

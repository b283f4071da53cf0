// Package frame implements the wire encoding used between a bridge and an
// external worker process.
//
// Every exchange on the wire is built from three kinds of unit:
//
//   - A control word is a 4-byte signed integer in big-endian order. A
//     non-positive word is a Signal; a positive word is the length of an
//     inbound data payload that follows immediately.
//
//   - A data header is 5 bytes: a 4-byte big-endian payload length followed
//     by a flag byte, which is LastFlag on the final frame of a flush cycle
//     and 0 otherwise. The payload bytes follow the header.
//
//   - An acknowledgement is the single byte 0, written by the receiver of an
//     inbound payload once it has consumed the payload.
//
// The functions in this package are pure transforms, except for the
// Read* and Write* helpers that apply them to an io.Reader or io.Writer.
package frame

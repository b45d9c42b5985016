// Package file implements the file transport. Every stream name maps to one
// file <dir>/<name>.sds holding the raw payload bytes, the same format the SDS
// I/O server records to.
//
// Key Components:
//
//   - Transport: a single stream file. Write mode appends. Read mode tails the
//     file: at the end of the file it waits for growth (fsnotify events with a
//     polling fallback) and reports io.EOF only after the file stayed unchanged
//     for the quiescence period.
//
//   - WithWriterCheck: lets the stream service tell a reader that a writer of the
//     same process still holds the stream open, so no end of stream is reported
//     while data may still follow.
//
// The file transport is neither multiplexed nor session oriented. The stream
// service synthesises frames on top of it, so the read path is the same as
// for remote streams.
package file

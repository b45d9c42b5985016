// Package rpc provides the communication layer of sdsio. It carries named
// streams between the stream service of an application and the SDS I/O
// server, over files, sockets or a serial line.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the system, including the
//     control messages, stream name rules, configuration structures and logging.
//
//   - transport: Byte channel abstraction with pluggable implementations
//     (file, TCP and Unix sockets, serial port, in-process pipe).
//
//   - frame: The wire format. Frames are length prefixed and checksummed, a
//     Link multiplexes many streams over one transport.
//
//   - serializer: Control message serialization with multiple format options
//     (Binary, JSON, GOB).
//
//   - server: The SDS I/O server that records write streams to files and plays
//     them back to readers.
package rpc

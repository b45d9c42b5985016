// Package common provides core data structures and utilities shared across
// the SDS I/O packages. It defines fundamental types, configuration
// structures, and protocol elements used by the stream service, the
// transports and the server.
//
// The package focuses on:
//   - Control message definition for the stream protocol
//   - Configuration structures for the stream service and the server
//   - Custom logging implementation integrated with Dragonboat's logger package
//   - Stream name routing rules
//
// Key Components:
//
//   - Control: payload of control frames (open, ack, close, credit, reset).
//     Includes factory methods for creating the individual messages.
//
//   - Mode: the direction of a stream (read or write).
//
//   - ServiceConfig: configuration of a stream service instance, including
//     routes, transport parameters, buffer sizes and the default timeout.
//
//   - ServerConfig: configuration of the SDS I/O server.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logging system while providing consistent formatting across the module.
package common

// Package cmd implements the command-line interface of sdsio. It provides a
// hierarchical command structure for running the SDS I/O server and for
// moving data through streams as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting the SDS I/O server on a socket or a serial port
//   - stream: Commands for writing, reading and benchmarking streams
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable SDSIO_<FLAG> (e.g.
// SDSIO_LOG_LEVEL=debug), .env and .env.local files are loaded on start.
//
// See sdsio -help for a list of all commands.
package cmd

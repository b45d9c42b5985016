// Package sds implements the SDS I/O stream service: named, unidirectional
// byte streams that are opened for reading or writing and carried by a file,
// a socket or a serial line, chosen per name by a routing table.
//
// A Service is created with Init and torn down with Uninit. In between
// streams are opened by name, written or read in chunks with every blocking
// call bounded by the configured timeout, and closed again:
//
//	svc, err := sds.Init(cfg)
//	h, err := svc.Open("sensor1", common.ModeWrite)
//	n, err := svc.Write(h, data)
//	err = svc.Close(h)
//	err = svc.Uninit()
//
// Each (name, mode) pair can be open once at a time. Handles are generation
// checked, a handle that was closed stays invalid even when its slot is reused.
//
// Write streams collect bytes in a bounded buffer and emit frames once a
// frame worth of data is buffered, or immediately on unbuffered transports.
// Close flushes the rest and marks the end of the stream. Read streams
// return buffered bytes right away and io.EOF after the end of the stream
// was received and drained.
//
// Session oriented transports (socket, serial) share one frame link per
// transport. Every stream on it is opened with a handshake, and read
// streams grant the server credit so the per stream buffer never overflows.
// The file transport stores the raw payload bytes in <dir>/<name>.sds.
//
// All errors wrap one of ErrGeneric, ErrParameter, ErrTimeout, ErrInterface
// and ErrNoServer, CodeOf maps them to the status codes of the device side API.
package sds

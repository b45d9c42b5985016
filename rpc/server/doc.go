// Package server implements the SDS I/O server, the counterpart of the stream
// service on the other end of a socket or serial line.
//
// The server speaks the frame protocol of package frame. Every client
// connection gets its own session:
//
//   - Open requests for writing create a new recording <name>.<index>.sds in
//     the output directory, using the first index that is not taken yet.
//     Frames are appended in sequence, a gap resets the stream and the end of
//     stream flag finishes the recording.
//
//   - Open requests for reading play back <name>.<index>.sds, where the index
//     counts the read opens of the name since the server started. Playback is
//     bounded by the credit the reader grants, and a recording that is still
//     in progress is followed until it ends.
//
// Socket clients (TCP or Unix, see IServerConnector) are served concurrently,
// a serial line is served by a single session that is re-opened when the port
// fails. Shutdown ends all sessions and closes every recording.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  OutDir:   "./recordings",
//	  Network:  "tcp",
//	  Endpoint: "0.0.0.0:5050",
//	  LogLevel: "info",
//	}
//
//	s, err := server.New(config)
//	if err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// With StatusEndpoint set, the server also exposes its metrics on /metrics and
// the recordings in progress on /streams.
package server

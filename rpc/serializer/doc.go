// Package serializer provides the encodings of control frame payloads. Control
// frames open, acknowledge, close and flow-control streams; their payload is a
// common.Control message. Both ends of a link must use the same serializer.
//
// Key Components:
//
//   - IControlSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Compact little endian format. A flags byte marks which
//     optional fields follow, so an ack or credit message is only a few bytes long.
//     This is the default and the only encoding a device side implementation
//     is expected to speak.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging links with a
//     protocol analyzer.
//
//   - gobSerializerImpl: Go's gob encoding, for Go-only deployments.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.New("binary")
//	data, err := s.Serialize(*common.NewCredit(4096))
//	// ... send data in a control frame ...
//	var ctl common.Control
//	err = s.Deserialize(receivedData, &ctl)
package serializer

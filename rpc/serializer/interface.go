package serializer

import (
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
)

// IControlSerializer is the interface for all control payload serializers
type IControlSerializer interface {
	// Serialize serializes a Control message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Control) ([]byte, error)
	// Deserialize deserializes a byte array into a Control message
	// It takes a byte array and a pointer to a Control message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Control) error
}

// New creates the serializer with the given name (binary, json, gob)
func New(name string) (IControlSerializer, error) {
	switch name {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}

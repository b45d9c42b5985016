package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"math"
)

// NewBinarySerializer creates a new serializer using a compact binary format.
// This is the default encoding on the wire since it is trivial to decode on
// a device without any allocation.
func NewBinarySerializer() IControlSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IControlSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasToken    byte = 1 << 0
	hasName     byte = 1 << 1
	hasStreamID byte = 1 << 2
	hasCredit   byte = 1 << 3
	hasReason   byte = 1 << 4
)

// fixed part: kind, flags, mode, status
const binaryHeaderSize = 4

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IControlSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Control) ([]byte, error) {
	if len(msg.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("name too long: %d bytes", len(msg.Name))
	}
	if len(msg.Reason) > math.MaxUint16 {
		return nil, fmt.Errorf("reason too long: %d bytes", len(msg.Reason))
	}

	result := make([]byte, b.sizeBytes(msg))

	result[0] = byte(msg.Kind)
	result[2] = byte(msg.Mode)
	result[3] = byte(msg.Status)

	var flags byte = 0
	pos := binaryHeaderSize

	if msg.Token != 0 {
		flags |= hasToken
		binary.LittleEndian.PutUint32(result[pos:pos+4], msg.Token)
		pos += 4
	}

	if msg.Name != "" {
		flags |= hasName
		binary.LittleEndian.PutUint16(result[pos:pos+2], uint16(len(msg.Name)))
		pos += 2
		copy(result[pos:], msg.Name)
		pos += len(msg.Name)
	}

	if msg.StreamID != 0 {
		flags |= hasStreamID
		binary.LittleEndian.PutUint32(result[pos:pos+4], msg.StreamID)
		pos += 4
	}

	if msg.Credit != 0 {
		flags |= hasCredit
		binary.LittleEndian.PutUint32(result[pos:pos+4], msg.Credit)
		pos += 4
	}

	if msg.Reason != "" {
		flags |= hasReason
		binary.LittleEndian.PutUint16(result[pos:pos+2], uint16(len(msg.Reason)))
		pos += 2
		copy(result[pos:], msg.Reason)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Control) error {
	if len(data) < binaryHeaderSize {
		return fmt.Errorf("data too short for control header")
	}

	*msg = common.Control{
		Kind:   common.ControlKind(data[0]),
		Mode:   common.Mode(data[2]),
		Status: common.Status(data[3]),
	}
	flags := data[1]
	pos := binaryHeaderSize

	readUint32 := func(field string) (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("data too short for %s", field)
		}
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v, nil
	}

	readString := func(field string) (string, error) {
		if pos+2 > len(data) {
			return "", fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+n > len(data) {
			return "", fmt.Errorf("data too short for %s data", field)
		}
		s := string(data[pos : pos+n])
		pos += n
		return s, nil
	}

	var err error
	if flags&hasToken != 0 {
		if msg.Token, err = readUint32("token"); err != nil {
			return err
		}
	}
	if flags&hasName != 0 {
		if msg.Name, err = readString("name"); err != nil {
			return err
		}
	}
	if flags&hasStreamID != 0 {
		if msg.StreamID, err = readUint32("stream id"); err != nil {
			return err
		}
	}
	if flags&hasCredit != 0 {
		if msg.Credit, err = readUint32("credit"); err != nil {
			return err
		}
	}
	if flags&hasReason != 0 {
		if msg.Reason, err = readString("reason"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Control) int {
	size := binaryHeaderSize

	if msg.Token != 0 {
		size += 4
	}
	if msg.Name != "" {
		size += 2 + len(msg.Name) // 2 bytes for length + name string
	}
	if msg.StreamID != 0 {
		size += 4
	}
	if msg.Credit != 0 {
		size += 4
	}
	if msg.Reason != "" {
		size += 2 + len(msg.Reason)
	}

	return size
}

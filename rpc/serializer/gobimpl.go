package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/sdsio/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IControlSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IControlSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IControlSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Control) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Control) error {
	// gob leaves zero valued fields untouched
	*msg = common.Control{}
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	return dec.Decode(msg)
}

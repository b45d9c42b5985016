package serializer

import (
	"encoding/json"
	"github.com/ValentinKolb/sdsio/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IControlSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IControlSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IControlSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Control) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Control) error {
	*msg = common.Control{}
	return json.Unmarshal(b, msg)
}

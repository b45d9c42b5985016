package serializer

import (
	"github.com/ValentinKolb/sdsio/rpc/common"
	"reflect"
	"strings"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IControlSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Control {
	return []common.Control{
		// Basic message with just a kind
		{Kind: common.CtlClose},

		// Open request
		*common.NewOpenRequest(7, "sensor1", common.ModeWrite),

		// Successful ack
		*common.NewAck(7, 3, common.ModeRead, common.StatusOK, ""),

		// Failed ack
		*common.NewAck(8, 0, common.ModeRead, common.StatusNotFound, "no recording for missing"),

		// Credit
		*common.NewCredit(64 * 1024),

		// Reset
		*common.NewReset(common.StatusProtocol, "sequence gap: expected 4, got 6"),

		// Message with all fields filled
		{
			Kind:     common.CtlAck,
			Token:    0xFFFFFFFF,
			Name:     "all.fields",
			Mode:     common.ModeWrite,
			StreamID: 42,
			Status:   common.StatusBusy,
			Credit:   1,
			Reason:   "busy",
		},
	}
}

// TestRoundTrip tests that every serializer restores every message exactly
func TestRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize into a dirty message to make sure no field survives
				result := common.Control{Name: "dirty", Credit: 99, Reason: "dirty"}
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestControlKinds tests each control kind with each serializer
func TestControlKinds(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for kind := common.CtlOpen; kind <= common.CtlReset; kind++ {
				data, err := serializer.Serialize(common.Control{Kind: kind})
				if err != nil {
					t.Errorf("Failed to serialize kind %s: %v", kind, err)
					continue
				}

				var result common.Control
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize kind %s: %v", kind, err)
					continue
				}

				if result.Kind != kind {
					t.Errorf("Kind doesn't match after round trip: Expected %s, got %s", kind, result.Kind)
				}
			}
		})
	}
}

// TestNew tests the serializer lookup by name
func TestNew(t *testing.T) {
	for _, name := range []string{"", "binary", "json", "gob"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
		}
	}
	if _, err := New("xml"); err == nil {
		t.Errorf("Expected error for unknown serializer")
	}
}

// TestBinaryTooLong tests that the binary serializer rejects oversized strings
func TestBinaryTooLong(t *testing.T) {
	msg := common.Control{Kind: common.CtlOpen, Name: strings.Repeat("x", 70000)}
	if _, err := NewBinarySerializer().Serialize(msg); err == nil {
		t.Errorf("Expected error for oversized name")
	}
}

// TestBinarySize tests that absent fields cost nothing on the wire
func TestBinarySize(t *testing.T) {
	data, err := NewBinarySerializer().Serialize(*common.NewClose())
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	if len(data) != binaryHeaderSize {
		t.Errorf("Expected %d bytes for a close message, got %d", binaryHeaderSize, len(data))
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0, 1},
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{3, 0, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for name",
			data:        []byte{1, hasName, 1, 0, 5, 0, 'a', 'b', 'c'}, // Claims name length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Missing token",
			data:        []byte{1, hasToken, 1, 0, 1, 2}, // Claims a token but only 2 bytes follow
			expectError: true,
		},
		{
			name:        "Missing reason length",
			data:        []byte{5, hasReason, 0, 5, 1},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Control
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

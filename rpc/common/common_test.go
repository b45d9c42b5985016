package common

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"sensor1", true},
		{"imu.accel-x_01", true},
		{"with space", true},
		{strings.Repeat("a", MaxNameLength), true},
		{"", false},
		{strings.Repeat("a", MaxNameLength+1), false},
		{"a/b", false},
		{"a\\b", false},
		{"what?", false},
		{"star*", false},
		{"c:drive", false},
		{"<tag>", false},
		{"pipe|", false},
		{"quote\"", false},
		{"tab\t", false},
		{"nul\x00", false},
		{"unit\x1f", false},
		{"del\x7f", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.valid && err != nil {
				t.Errorf("Expected %q to be valid, got %v", tt.name, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidName) {
				t.Errorf("Expected ErrInvalidName for %q, got %v", tt.name, err)
			}
		})
	}
}

func TestParseRoutes(t *testing.T) {
	tests := []struct {
		input   string
		want    []Route
		wantErr bool
	}{
		{"*=file", []Route{{"*", TransportFile}}, false},
		{"sensor*=socket, *=file", []Route{{"sensor*", TransportSocket}, {"*", TransportFile}}, false},
		{"imu=Serial", []Route{{"imu", TransportSerial}}, false},
		{"", nil, true},
		{"nokind", nil, true},
		{"*=ftp", nil, true},
		{"[=file", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRoutes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRoutes(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Route %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *ServiceConfig)
		ok     bool
	}{
		{"defaults", func(c *ServiceConfig) {}, true},
		{"no routes", func(c *ServiceConfig) { c.Routes = nil }, false},
		{"zero frame size", func(c *ServiceConfig) { c.FrameSize = 0 }, false},
		{"buffer smaller than frame", func(c *ServiceConfig) { c.BufferSize = c.FrameSize - 1 }, false},
		{"zero timeout", func(c *ServiceConfig) { c.Timeout = 0 }, false},
		{"bad log level", func(c *ServiceConfig) { c.LogLevel = "loud" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultServiceConfig()
			tt.modify(&c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, expected ok=%v", err, tt.ok)
			}
		})
	}
}

func TestKindsAndString(t *testing.T) {
	c := DefaultServiceConfig()
	c.Routes = []Route{{"a*", TransportSocket}, {"b*", TransportFile}, {"*", TransportSocket}}
	c.Timeout = 2 * time.Second

	kinds := c.Kinds()
	if len(kinds) != 2 || kinds[0] != TransportFile || kinds[1] != TransportSocket {
		t.Errorf("Unexpected kinds %v", kinds)
	}

	s := c.String()
	for _, want := range []string{"STREAM SERVICE", "ROUTES", "FILE TRANSPORT", "SOCKET TRANSPORT", "2s"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %q in config string", want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(lvl); err != nil {
			t.Errorf("ParseLogLevel(%q) failed: %v", lvl, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestModeAndStatusStrings(t *testing.T) {
	if ModeRead.String() != "read" || ModeWrite.String() != "write" {
		t.Error("Unexpected mode strings")
	}
	if Mode(7).Valid() {
		t.Error("Mode 7 should be invalid")
	}
	if StatusNotFound.String() != "not found" {
		t.Errorf("Unexpected status string %q", StatusNotFound.String())
	}
}

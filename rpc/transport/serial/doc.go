// Package serial implements the serial line transport on top of go.bug.st/serial.
//
// Writes are paced to the line rate (baudrate / 10 bytes per second) with a
// token bucket, so a deadline expires before bytes are handed to the driver
// rather than in the middle of a frame. Reads poll the port with a short read
// timeout and check the context in between.
//
// A serial line is not reliable. The transport reports this in its Info and
// the frame decoder resynchronizes on corrupt input.
package serial

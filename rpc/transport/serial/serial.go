package serial

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.bug.st/serial"
	"golang.org/x/time/rate"
	"strings"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport")

// pollInterval is the read timeout of the port, Receive checks its context in between
const pollInterval = 20 * time.Millisecond

// port is the part of serial.Port the transport uses
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// openPort is replaced in tests
var openPort = func(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

// Transport implements transport.ITransport over a serial port
type Transport struct {
	conf        common.SerialConf
	mode        *serial.Mode
	limiter     *rate.Limiter
	bytesPerSec int

	mu sync.Mutex
	p  port
}

// New validates conf and creates a serial transport. The port is opened by Connect.
func New(conf common.SerialConf) (*Transport, error) {
	mode, err := ParseMode(conf)
	if err != nil {
		return nil, err
	}
	if conf.Port == "" {
		return nil, fmt.Errorf("no serial port configured")
	}

	// 8N1 takes 10 bit times per byte, that is close enough for every mode
	bytesPerSec := conf.BaudRate / 10
	if bytesPerSec < 1 {
		bytesPerSec = 1
	}

	return &Transport{
		conf:        conf,
		mode:        mode,
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
		bytesPerSec: bytesPerSec,
	}, nil
}

// ParseMode converts the configuration into a serial.Mode
func ParseMode(conf common.SerialConf) (*serial.Mode, error) {
	if conf.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baudrate %d", conf.BaudRate)
	}

	dataBits := conf.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	if dataBits < 5 || dataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d (expected 5-8)", dataBits)
	}

	parity, err := ParseParity(conf.Parity)
	if err != nil {
		return nil, err
	}
	stopBits, err := ParseStopBits(conf.StopBits)
	if err != nil {
		return nil, err
	}

	return &serial.Mode{
		BaudRate: conf.BaudRate,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// ParseParity converts N, E, O, M or S into a serial.Parity
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N", "":
		return serial.NoParity, nil
	case "E":
		return serial.EvenParity, nil
	case "O":
		return serial.OddParity, nil
	case "M":
		return serial.MarkParity, nil
	case "S":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q (expected one of: N, E, O, M, S)", s)
	}
}

// ParseStopBits converts 1, 1.5 or 2 into serial.StopBits
func ParseStopBits(f float64) (serial.StopBits, error) {
	switch f {
	case 1, 0:
		return serial.OneStopBit, nil
	case 1.5:
		return serial.OnePointFiveStopBits, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %v (expected one of: 1, 1.5, 2)", f)
	}
}

// Ports lists the serial ports of the system
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.p != nil {
		return nil
	}

	p, err := openPort(t.conf.Port, t.mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, t.conf.Port, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return fmt.Errorf("failed to configure %s: %w", t.conf.Port, err)
	}

	t.p = p
	Logger.Infof("opened serial port %s at %d baud", t.conf.Port, t.conf.BaudRate)
	return nil
}

// Send writes p paced to the line rate. A deadline in ctx that would expire
// before the line can take the next chunk ends the call early.
func (t *Transport) Send(ctx context.Context, p []byte) (int, error) {
	sp := t.current()
	if sp == nil {
		return 0, transport.ErrClosed
	}

	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if burst := t.limiter.Burst(); chunk > burst {
			chunk = burst
		}

		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}

		n, err := sp.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Receive polls the port until data arrives or ctx is done
func (t *Transport) Receive(ctx context.Context, p []byte) (int, error) {
	for {
		sp := t.current()
		if sp == nil {
			return 0, transport.ErrClosed
		}
		if ctx.Err() != nil {
			return 0, transport.ContextError(ctx)
		}

		n, err := sp.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.p == nil {
		return nil
	}
	err := t.p.Close()
	t.p = nil
	return err
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Kind:            common.TransportSerial,
		Endpoint:        t.conf.Port,
		SessionOriented: true,
		Multiplexed:     true,
		BytesPerSec:     t.bytesPerSec,
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *Transport) current() port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

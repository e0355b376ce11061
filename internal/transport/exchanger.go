package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/codec"
)

// Endpoint is an instrument network address.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// Validate checks that the endpoint is usable.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("port %d out of range", e.Port)
	}
	return nil
}

// Options configure an Exchanger.
type Options struct {
	// Timeout bounds one exchange (write plus reply). Required.
	Timeout time.Duration

	// DialTimeout bounds connection establishment. Defaults to Timeout.
	DialTimeout time.Duration

	// Terminator ends every line on the wire. Defaults to "\n".
	Terminator string

	// Observer, when set, is told the outcome of every exchange.
	Observer Observer
}

// Observer receives exchange outcomes, typically for metrics.
type Observer interface {
	ObserveExchange(endpoint string, d time.Duration, err error)
}

// Exchanger is a serialized command/response channel to one instrument.
type Exchanger struct {
	endpoint Endpoint
	opts     Options

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

// Dial connects to ep and returns a ready Exchanger.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Exchanger, error) {
	if err := ep.Validate(); err != nil {
		return nil, &adapter.ExchangeError{Code: adapter.ErrConnection, Err: err}
	}
	if opts.Timeout <= 0 {
		return nil, &adapter.ExchangeError{Code: adapter.ErrConnection, Err: fmt.Errorf("timeout must be positive")}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = opts.Timeout
	}
	if opts.Terminator == "" {
		opts.Terminator = "\n"
	}

	x := &Exchanger{endpoint: ep, opts: opts}
	if err := x.connectLocked(ctx, ""); err != nil {
		return nil, err
	}
	return x, nil
}

// Endpoint returns the address this Exchanger talks to.
func (x *Exchanger) Endpoint() Endpoint {
	return x.endpoint
}

// SendCommand writes text without waiting for a reply.
func (x *Exchanger) SendCommand(ctx context.Context, text string) error {
	_, err := x.exchange(ctx, text, false)
	return err
}

// RequestString writes text and returns the reply line without its
// terminator.
func (x *Exchanger) RequestString(ctx context.Context, text string) (string, error) {
	return x.exchange(ctx, text, true)
}

// RequestInt writes text and parses the reply as an integer.
func (x *Exchanger) RequestInt(ctx context.Context, text string) (int, error) {
	raw, err := x.exchange(ctx, text, true)
	if err != nil {
		return 0, err
	}
	n, err := codec.ParseInt(raw)
	if err != nil {
		return 0, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return n, nil
}

// RequestDouble writes text and parses the reply as a real number.
func (x *Exchanger) RequestDouble(ctx context.Context, text string) (float64, error) {
	raw, err := x.exchange(ctx, text, true)
	if err != nil {
		return 0, err
	}
	v, err := codec.ParseDouble(raw)
	if err != nil {
		return 0, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return v, nil
}

// RequestBool writes text and parses the reply as 1/0 or ON/OFF.
func (x *Exchanger) RequestBool(ctx context.Context, text string) (bool, error) {
	raw, err := x.exchange(ctx, text, true)
	if err != nil {
		return false, err
	}
	v, err := codec.ParseBool(raw)
	if err != nil {
		return false, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return v, nil
}

// Close releases the socket. Later exchanges fail with ErrConnection.
// Close is idempotent and waits for an in-flight exchange to finish.
func (x *Exchanger) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.dropLocked()
}

func (x *Exchanger) exchange(ctx context.Context, text string, expectReply bool) (reply string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", &adapter.ExchangeError{Code: adapter.ErrValidation, Command: text, Err: fmt.Errorf("empty command")}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	start := time.Now()
	if x.opts.Observer != nil {
		defer func() {
			x.opts.Observer.ObserveExchange(x.endpoint.Address(), time.Since(start), err)
		}()
	}

	if x.closed {
		return "", &adapter.ExchangeError{Code: adapter.ErrConnection, Command: text, Err: net.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return "", &adapter.ExchangeError{Code: adapter.ErrTimeout, Command: text, Err: err}
	}
	if x.conn == nil {
		if err := x.connectLocked(ctx, text); err != nil {
			return "", err
		}
	}

	deadline := time.Now().Add(x.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := x.conn.SetDeadline(deadline); err != nil {
		return "", x.failLocked(text, err)
	}

	if _, err := x.conn.Write([]byte(text + x.opts.Terminator)); err != nil {
		return "", x.failLocked(text, err)
	}
	if !expectReply {
		return "", nil
	}

	line, err := x.reader.ReadString(x.opts.Terminator[len(x.opts.Terminator)-1])
	if err != nil {
		return "", x.failLocked(text, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (x *Exchanger) connectLocked(ctx context.Context, text string) error {
	dialer := net.Dialer{Timeout: x.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", x.endpoint.Address())
	if err != nil {
		return &adapter.ExchangeError{Code: adapter.ErrConnection, Command: text,
			Err: fmt.Errorf("dial %s: %w", x.endpoint.Address(), err)}
	}
	x.conn = conn
	x.reader = bufio.NewReader(conn)
	return nil
}

// failLocked classifies an I/O error and discards the connection so the
// next exchange starts with clean framing.
func (x *Exchanger) failLocked(text string, err error) error {
	_ = x.dropLocked()

	code := adapter.ErrCommunication
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = adapter.ErrTimeout
	}
	return &adapter.ExchangeError{Code: code, Command: text, Err: err}
}

func (x *Exchanger) dropLocked() error {
	if x.conn == nil {
		return nil
	}
	err := x.conn.Close()
	x.conn = nil
	x.reader = nil
	return err
}

var _ adapter.Exchanger = (*Exchanger)(nil)

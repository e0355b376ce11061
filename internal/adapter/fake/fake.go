// Package fake provides an in-memory Exchanger for facade and telemetry
// tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/codec"
)

// Exchanger answers queries from a response table and records every
// message it is given, in order.
type Exchanger struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	sent      []string
	closed    bool
	closes    int

	// Hook, when set, runs before each exchange outside the lock. Tests use
	// it to block or count.
	Hook func(ctx context.Context, text string)
}

// NewExchanger returns a fake with the given query responses.
func NewExchanger(responses map[string]string) *Exchanger {
	r := make(map[string]string, len(responses))
	for k, v := range responses {
		r[k] = v
	}
	return &Exchanger{responses: r, failures: make(map[string]error)}
}

// SetResponse sets the reply for a query.
func (f *Exchanger) SetResponse(query, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[query] = response
}

// FailOn makes every exchange of text fail with err. A nil err clears it.
func (f *Exchanger) FailOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, text)
		return
	}
	f.failures[text] = err
}

// Sent returns a copy of every message exchanged so far.
func (f *Exchanger) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// Closes returns how many times Close was called.
func (f *Exchanger) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Exchanger) exchange(ctx context.Context, text string, query bool) (string, error) {
	if f.Hook != nil {
		f.Hook(ctx, text)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", &adapter.ExchangeError{Code: adapter.ErrConnection, Command: text, Err: fmt.Errorf("exchanger closed")}
	}
	if err := ctx.Err(); err != nil {
		return "", &adapter.ExchangeError{Code: adapter.ErrTimeout, Command: text, Err: err}
	}
	f.sent = append(f.sent, text)
	if err, ok := f.failures[text]; ok {
		return "", err
	}
	if !query {
		return "", nil
	}
	resp, ok := f.responses[text]
	if !ok {
		return "", &adapter.ExchangeError{Code: adapter.ErrTimeout, Command: text, Err: fmt.Errorf("no response configured")}
	}
	return resp, nil
}

func (f *Exchanger) SendCommand(ctx context.Context, text string) error {
	_, err := f.exchange(ctx, text, false)
	return err
}

func (f *Exchanger) RequestString(ctx context.Context, text string) (string, error) {
	return f.exchange(ctx, text, true)
}

func (f *Exchanger) RequestInt(ctx context.Context, text string) (int, error) {
	raw, err := f.exchange(ctx, text, true)
	if err != nil {
		return 0, err
	}
	n, err := codec.ParseInt(raw)
	if err != nil {
		return 0, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return n, nil
}

func (f *Exchanger) RequestDouble(ctx context.Context, text string) (float64, error) {
	raw, err := f.exchange(ctx, text, true)
	if err != nil {
		return 0, err
	}
	v, err := codec.ParseDouble(raw)
	if err != nil {
		return 0, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return v, nil
}

func (f *Exchanger) RequestBool(ctx context.Context, text string) (bool, error) {
	raw, err := f.exchange(ctx, text, true)
	if err != nil {
		return false, err
	}
	v, err := codec.ParseBool(raw)
	if err != nil {
		return false, &adapter.ExchangeError{Code: adapter.ErrProtocol, Command: text, Err: err}
	}
	return v, nil
}

func (f *Exchanger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	return nil
}

var _ adapter.Exchanger = (*Exchanger)(nil)

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
)

// lineServer answers each received line with handler's result. A false ok
// sends nothing; a "CLOSE" reply closes the connection.
type lineServer struct {
	ln      net.Listener
	handler func(line string) (reply string, ok bool)
	wg      sync.WaitGroup
}

func startLineServer(t *testing.T, handler func(string) (string, bool)) *lineServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &lineServer{ln: ln, handler: handler}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
	})
	return s
}

func (s *lineServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply, ok := s.handler(scanner.Text())
		if !ok {
			continue
		}
		if reply == "CLOSE" {
			return
		}
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			return
		}
	}
}

func (s *lineServer) endpoint() Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func dialTest(t *testing.T, ep Endpoint, timeout time.Duration) *Exchanger {
	t.Helper()
	x, err := Dial(context.Background(), ep, Options{Timeout: timeout})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}

func TestExchangerRequestAndCommand(t *testing.T) {
	var mu sync.Mutex
	var received []string
	srv := startLineServer(t, func(line string) (string, bool) {
		mu.Lock()
		received = append(received, line)
		mu.Unlock()
		switch line {
		case "MEAS:VOLT?":
			return "12.5", true
		case "*OPC?":
			return "1", true
		case "*IDN?":
			return "Agilent Technologies,N5746A,US001,A.01\r", true
		case "*ESR?":
			return "+32", true
		}
		return "", false
	})
	x := dialTest(t, srv.endpoint(), time.Second)
	ctx := context.Background()

	if err := x.SendCommand(ctx, "VOLT 12.5;"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	v, err := x.RequestDouble(ctx, "MEAS:VOLT?")
	if err != nil || v != 12.5 {
		t.Errorf("Expected 12.5, got %v (%v)", v, err)
	}
	done, err := x.RequestBool(ctx, "*OPC?")
	if err != nil || !done {
		t.Errorf("Expected true, got %v (%v)", done, err)
	}
	idn, err := x.RequestString(ctx, "*IDN?")
	if err != nil || idn != "Agilent Technologies,N5746A,US001,A.01" {
		t.Errorf("Expected trimmed identity, got %q (%v)", idn, err)
	}
	esr, err := x.RequestInt(ctx, "*ESR?")
	if err != nil || esr != 32 {
		t.Errorf("Expected 32, got %d (%v)", esr, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 || received[0] != "VOLT 12.5;" {
		t.Errorf("Expected set command on the wire first, got %v", received)
	}
}

func TestExchangerSerializesConcurrentCallers(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) {
		// Echo the query so a mismatched reply is detectable.
		return line, true
	})
	x := dialTest(t, srv.endpoint(), 2*time.Second)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q := fmt.Sprintf("Q%d:%d?", w, i)
				got, err := x.RequestString(context.Background(), q)
				if err != nil {
					errs <- err
					return
				}
				if got != q {
					errs <- fmt.Errorf("reply %q for query %q", got, q)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExchangerTimeoutDropsStaleReply(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) {
		switch line {
		case "SLOW?":
			time.Sleep(300 * time.Millisecond)
			return "late", true
		case "FAST?":
			return "fast", true
		}
		return "", false
	})
	x := dialTest(t, srv.endpoint(), 100*time.Millisecond)

	_, err := x.RequestString(context.Background(), "SLOW?")
	if !errors.Is(err, adapter.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	var xerr *adapter.ExchangeError
	if !errors.As(err, &xerr) || xerr.Command != "SLOW?" {
		t.Errorf("Expected ExchangeError naming the command, got %v", err)
	}

	got, err := x.RequestString(context.Background(), "FAST?")
	if err != nil {
		t.Fatalf("Expected recovery after timeout, got %v", err)
	}
	if got != "fast" {
		t.Errorf("Expected fresh reply, got %q", got)
	}
}

func TestExchangerHonorsContextDeadline(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) {
		return "", false
	})
	x := dialTest(t, srv.endpoint(), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := x.RequestString(ctx, "MEAS:CURR?")
	if !errors.Is(err, adapter.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Expected context deadline to shorten the wait, took %v", time.Since(start))
	}
}

func TestExchangerCommunicationFailure(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) {
		if line == "DROP?" {
			return "CLOSE", true
		}
		return "ok", true
	})
	x := dialTest(t, srv.endpoint(), time.Second)

	_, err := x.RequestString(context.Background(), "DROP?")
	if !errors.Is(err, adapter.ErrCommunication) {
		t.Fatalf("Expected ErrCommunication, got %v", err)
	}

	if got, err := x.RequestString(context.Background(), "PING?"); err != nil || got != "ok" {
		t.Errorf("Expected reconnect to succeed, got %q (%v)", got, err)
	}
}

func TestExchangerProtocolError(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) {
		return "garbage", true
	})
	x := dialTest(t, srv.endpoint(), time.Second)

	_, err := x.RequestDouble(context.Background(), "MEAS:VOLT?")
	if !errors.Is(err, adapter.ErrProtocol) {
		t.Errorf("Expected ErrProtocol, got %v", err)
	}
	_, err = x.RequestBool(context.Background(), ":OUTP:STAT?")
	if !errors.Is(err, adapter.ErrProtocol) {
		t.Errorf("Expected ErrProtocol, got %v", err)
	}
}

func TestExchangerEmptyCommand(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) { return "", false })
	x := dialTest(t, srv.endpoint(), time.Second)

	if err := x.SendCommand(context.Background(), "  "); !errors.Is(err, adapter.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestExchangerClose(t *testing.T) {
	srv := startLineServer(t, func(line string) (string, bool) { return "1", true })
	x := dialTest(t, srv.endpoint(), time.Second)

	if err := x.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := x.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
	err := x.SendCommand(context.Background(), ":OUTP:STAT ON;")
	if !errors.Is(err, adapter.ErrConnection) {
		t.Errorf("Expected ErrConnection after Close, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(context.Background(), Endpoint{Host: "127.0.0.1", Port: port}, Options{Timeout: time.Second})
	if !errors.Is(err, adapter.ErrConnection) {
		t.Errorf("Expected ErrConnection, got %v", err)
	}
}

func TestEndpointValidate(t *testing.T) {
	tests := []struct {
		ep      Endpoint
		wantErr string
	}{
		{Endpoint{Host: "10.0.0.5", Port: 5025}, ""},
		{Endpoint{Host: "", Port: 5025}, "host"},
		{Endpoint{Host: "lab", Port: 0}, "port"},
		{Endpoint{Host: "lab", Port: 70000}, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.ep.String(), func(t *testing.T) {
			err := tt.ep.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

package instrumentmock

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// Server exposes an Instrument on a TCP listener.
type Server struct {
	inst        *Instrument
	listener    net.Listener
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	connsMu     sync.Mutex
	conns       map[net.Conn]struct{}
	idleTimeout time.Duration
	logf        func(format string, args ...interface{})
}

// NewServer creates a server for inst.
func NewServer(inst *Instrument) *Server {
	return &Server{
		inst:        inst,
		stopChan:    make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
		idleTimeout: 5 * time.Minute,
		logf:        func(string, ...interface{}) {},
	}
}

// WithLogging makes the server log connections through the standard logger.
func (s *Server) WithLogging() *Server {
	s.logf = log.Printf
	return s
}

// Instrument returns the simulated instrument.
func (s *Server) Instrument() *Instrument {
	return s.inst
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve()
	}()
	return nil
}

// ListenAndServe listens on addr and blocks until Close.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logf("%s simulator listening on %s", s.inst.Model(), listener.Addr())
	s.serve()
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logf("Failed to accept connection: %v", err)
			continue
		}

		s.connsMu.Lock()
		select {
		case <-s.stopChan:
			s.connsMu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	s.logf("%s client connected: %s", s.inst.Model(), conn.RemoteAddr())
	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		for _, msg := range strings.Split(strings.TrimSpace(line), ";") {
			if strings.TrimSpace(msg) == "" {
				continue
			}
			resp := s.inst.handle(msg)
			if resp.delay > 0 {
				select {
				case <-time.After(resp.delay):
				case <-s.stopChan:
					return
				}
			}
			if resp.disconnect {
				return
			}
			if !resp.hasReply {
				continue
			}
			if _, err := conn.Write([]byte(resp.reply + "\n")); err != nil {
				return
			}
		}
	}
}

// Close stops accepting, drops every client and waits for handlers.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()
		s.wg.Wait()
	})
	return err
}

package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// ListenerState is the state of the shutdown listener.
type ListenerState int32

const (
	ListenerArmed ListenerState = iota
	ListenerAwaitingConnection
	ListenerReadingLine
	ListenerMatched
	ListenerMismatched
	ListenerDisarmed
)

func (s ListenerState) String() string {
	switch s {
	case ListenerArmed:
		return "armed"
	case ListenerAwaitingConnection:
		return "awaiting_connection"
	case ListenerReadingLine:
		return "reading_line"
	case ListenerMatched:
		return "matched"
	case ListenerMismatched:
		return "mismatched"
	case ListenerDisarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

var errLineTooLong = errors.New("shutdown line too long")

// ShutdownConfig is copied from the server options when the listener is
// armed.
type ShutdownConfig struct {
	Address string
	Port    int
	Command string
	// MaxLength bounds the bytes read from one connection.
	MaxLength int
	// ReadTimeout bounds the wait for the line.
	ReadTimeout time.Duration
}

// ShutdownListener accepts one connection at a time and calls onShutdown
// when a client sends the configured command. Nothing is written back to
// clients.
type ShutdownListener struct {
	cfg        ShutdownConfig
	onShutdown func()

	state atomic.Int32

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn
	done chan struct{}
}

// NewShutdownListener creates a disarmed listener.
func NewShutdownListener(cfg ShutdownConfig, onShutdown func()) *ShutdownListener {
	if cfg.MaxLength < len(cfg.Command) {
		cfg.MaxLength = len(cfg.Command)
	}
	l := &ShutdownListener{cfg: cfg, onShutdown: onShutdown}
	l.state.Store(int32(ListenerDisarmed))
	return l
}

// Arm binds the socket and starts the accept loop.
func (l *ShutdownListener) Arm() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}

	addr := net.JoinHostPort(l.cfg.Address, strconv.Itoa(l.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", lifecycle.ErrListenerBind, addr, err)
	}
	l.ln = ln
	l.done = make(chan struct{})
	l.setState(ListenerArmed)

	logger.Infow("Shutdown listener armed", "addr", ln.Addr().String())
	go l.serve(ln, l.done)
	return nil
}

// Disarm closes the socket and waits for the accept loop to exit. It is safe
// to call repeatedly.
func (l *ShutdownListener) Disarm() {
	l.mu.Lock()
	ln, conn, done := l.ln, l.conn, l.done
	l.ln = nil
	l.mu.Unlock()

	if ln == nil {
		return
	}
	_ = ln.Close()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Addr returns the bound address, nil when disarmed.
func (l *ShutdownListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// State returns the current protocol state.
func (l *ShutdownListener) State() ListenerState {
	return ListenerState(l.state.Load())
}

func (l *ShutdownListener) setState(s ListenerState) {
	l.state.Store(int32(s))
}

func (l *ShutdownListener) serve(ln net.Listener, done chan struct{}) {
	defer close(done)
	defer l.setState(ListenerDisarmed)

	var backoff time.Duration
	for {
		l.setState(ListenerAwaitingConnection)
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// transient accept failure, e.g. EMFILE
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			logger.Warnw("Shutdown listener accept failed", "error", err, "retry_in", backoff.String())
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if l.handle(ln, conn) {
			l.mu.Lock()
			if l.ln == ln {
				l.ln = nil
			}
			l.mu.Unlock()
			_ = ln.Close()
			l.setState(ListenerDisarmed)
			if l.onShutdown != nil {
				l.onShutdown()
			}
			return
		}
	}
}

// handle reads one line from conn and reports whether it matched. A conn
// accepted on ln after Disarm let go of ln is closed unread.
func (l *ShutdownListener) handle(ln net.Listener, conn net.Conn) bool {
	l.mu.Lock()
	if l.ln != ln {
		l.mu.Unlock()
		_ = conn.Close()
		return false
	}
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		_ = conn.Close()
	}()

	l.setState(ListenerReadingLine)
	if l.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	}

	line, err := readLine(conn, l.cfg.MaxLength)
	if err != nil {
		l.setState(ListenerMismatched)
		logger.Warnw("Invalid shutdown command", "remote", conn.RemoteAddr().String(), "error", err)
		return false
	}

	if strings.TrimSpace(line) != l.cfg.Command {
		l.setState(ListenerMismatched)
		logger.Warnw("Invalid shutdown command received", "remote", conn.RemoteAddr().String(), "length", len(line))
		return false
	}

	l.setState(ListenerMatched)
	logger.Infow("Shutdown command received", "remote", conn.RemoteAddr().String())
	return true
}

// readLine reads up to maxLen bytes terminated by '\n', '\r' or EOF.
func readLine(r io.Reader, maxLen int) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(maxLen)+1))
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if b == '\n' || b == '\r' {
			return sb.String(), nil
		}
		if sb.Len() == maxLen {
			return "", errLineTooLong
		}
		sb.WriteByte(b)
	}
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultRecvBuffer  = 1 << 20
	defaultPayloadSize = 65535
	pollInterval       = 100 * time.Millisecond
)

// ReceiverConfig configures the inbound telemetry socket.
type ReceiverConfig struct {
	// Addr is the local host:port to bind for inbound telemetry.
	Addr string
	// RecvBuffer is the socket receive buffer size in bytes; 0 means 1 MiB.
	RecvBuffer int
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Receiver owns the inbound UDP socket. It feeds every datagram to a Parser
// and stores each completed frame into a Store. Socket errors end the
// receive loop and surface to the caller; reconnect policy belongs there,
// not here.
type Receiver struct {
	cfg    ReceiverConfig
	parser *Parser
	store  *Store
	log    *slog.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewReceiver wires a receiver to the given parser and store. The socket is
// not opened until Listen.
func NewReceiver(cfg ReceiverConfig, parser *Parser, store *Store) *Receiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		cfg:    cfg,
		parser: parser,
		store:  store,
		log:    logger.With("component", "telemetry"),
	}
}

// Listen binds the inbound socket.
func (r *Receiver) Listen() error {
	if r.socket() != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve telemetry addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind telemetry socket: %w", err)
	}
	rcvBuf := r.cfg.RecvBuffer
	if rcvBuf == 0 {
		rcvBuf = defaultRecvBuffer
	}
	if err := conn.SetReadBuffer(rcvBuf); err != nil {
		r.log.Warn("set receive buffer failed", "size", rcvBuf, "err", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.log.Info("telemetry listening", "addr", conn.LocalAddr().String())
	return nil
}

func (r *Receiver) socket() *net.UDPConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Run reads datagrams until the context is cancelled, the socket is closed,
// or a socket error occurs. Errors are returned, not retried. Listen must
// have been called first.
func (r *Receiver) Run(ctx context.Context) error {
	conn := r.socket()
	if conn == nil {
		return fmt.Errorf("telemetry receiver: socket not bound")
	}
	buf := make([]byte, defaultPayloadSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Short read deadline so context cancellation is noticed promptly.
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("telemetry deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("telemetry read: %w", err)
		}
		for _, frame := range r.parser.Feed(buf[:n]) {
			r.store.Update(frame)
		}
	}
}

// LocalAddr returns the bound address, or nil before Listen.
func (r *Receiver) LocalAddr() net.Addr {
	conn := r.socket()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Close closes the socket, unblocking a concurrent Run.
func (r *Receiver) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

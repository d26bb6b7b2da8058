package command

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the controller's command cadence: at most one
// packet per 10 ms.
const DefaultMinInterval = 10 * time.Millisecond

// TransmitterConfig configures the outbound command socket.
type TransmitterConfig struct {
	// RemoteAddr is the controller's host:port.
	RemoteAddr string
	// LocalAddr optionally pins the local bind address ("" lets the kernel
	// choose).
	LocalAddr string
	// MinInterval is the minimum spacing between sends; 0 means
	// DefaultMinInterval.
	MinInterval time.Duration
	// Blocking selects the rate-limit policy: true makes Send wait for the
	// interval to elapse (teleoperation loops pinned to the control
	// cadence), false makes it drop and report ErrRateLimited
	// (observation-driven callbacks).
	Blocking bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Transmitter owns the outbound UDP socket and enforces the minimum
// inter-send interval. The limiter runs on the monotonic clock, so
// wall-clock adjustments never distort the spacing, and a blocking wait is
// interruptible through the context so shutdown is not delayed.
type Transmitter struct {
	cfg     TransmitterConfig
	enc     *Encoder
	limiter *rate.Limiter
	log     *slog.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewTransmitter wires a transmitter to an encoder. The socket is not
// opened until Connect.
func NewTransmitter(cfg TransmitterConfig, enc *Encoder) *Transmitter {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		cfg:     cfg,
		enc:     enc,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     logger.With("component", "command"),
	}
}

// Connect opens the connected UDP socket to the controller.
func (t *Transmitter) Connect() error {
	if t.socket() != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", t.cfg.RemoteAddr)
	if err != nil {
		return fmt.Errorf("resolve command addr: %w", err)
	}
	var laddr *net.UDPAddr
	if t.cfg.LocalAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", t.cfg.LocalAddr)
		if err != nil {
			return fmt.Errorf("resolve command bind addr: %w", err)
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.log.Info("command socket connected", "remote", raddr.String())
	return nil
}

func (t *Transmitter) socket() *net.UDPConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Send encodes and transmits one command. In blocking mode it waits until
// the minimum interval has elapsed (or ctx is cancelled); in non-blocking
// mode it returns ErrRateLimited instead of waiting.
func (t *Transmitter) Send(ctx context.Context, cmd *Command) error {
	conn := t.socket()
	if conn == nil {
		return ErrNotConnected
	}
	if t.cfg.Blocking {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	} else if !t.limiter.Allow() {
		return ErrRateLimited
	}

	payload, err := t.enc.Encode(cmd)
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// SendEmpty transmits an empty datagram. The controller treats any inbound
// packet as the trigger to start streaming telemetry, so this is sent once
// on connect. Not rate limited; it carries no command.
func (t *Transmitter) SendEmpty() error {
	conn := t.socket()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write(nil); err != nil {
		return fmt.Errorf("send trigger: %w", err)
	}
	return nil
}

// LocalAddr returns the bound address, or nil before Connect.
func (t *Transmitter) LocalAddr() net.Addr {
	conn := t.socket()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Close closes the socket. Safe to call concurrently with Send; an
// in-flight blocking wait is bounded by the interval and the write then
// fails with a transport error.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

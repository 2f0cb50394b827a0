// Package device implements a single-peer, ordered, acknowledged messaging
// transport layered over UDP: CONNECT handshake, RELIABLE delivery with
// bounded retransmission, best-effort UNRELIABLE delivery, and a registered
// per-message-type handler dispatch.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"reliudp/pkg/logging"
)

// Device is a single logical connection to exactly one remote peer. A Device
// is either active (it dials a known remote) or passive (it waits to learn
// its peer from the first CONNECT probe); see Start. All exported methods
// are safe for concurrent use.
type Device struct {
	conn *net.UDPConn

	writeMu sync.Mutex

	remoteMu sync.RWMutex
	remote   *net.UDPAddr

	connected atomic.Bool
	closed    atomic.Bool

	nextReliableSend   uint32
	nextUnreliableSend uint32
	reliableReceive    uint32
	unreliableReceive  uint32

	pendingMu sync.Mutex
	pending   map[uint32]*sendSlot

	registry   *handlerRegistry
	dispatcher *dispatcher

	connAwaitMu   sync.Mutex
	connAwaitCh   chan struct{}
	connAwaitAddr *net.UDPAddr

	clock  clockwork.Clock
	logger *logging.Logger

	group     *errgroup.Group
	groupStop context.CancelFunc
}

// Option customizes a Device at construction time.
type Option func(*deviceConfig)

type deviceConfig struct {
	clock           clockwork.Clock
	logger          *logging.Logger
	connectAttempts int
	asyncQueue      int
}

// WithClock injects a clockwork.Clock in place of the real clock; intended
// for deterministic tests that need to advance time without sleeping.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *deviceConfig) { cfg.clock = c }
}

// WithLogger overrides the default console logger.
func WithLogger(l *logging.Logger) Option {
	return func(cfg *deviceConfig) { cfg.logger = l }
}

// WithAsyncDispatch opts into dispatching received messages on a single
// dedicated worker goroutine instead of inline on the receive goroutine,
// with the given queue depth. Handler invocations still run in strict
// acceptance order either way; this only decouples accepting the next
// datagram from finishing the previous handler call.
func WithAsyncDispatch(queueSize int) Option {
	return func(cfg *deviceConfig) { cfg.asyncQueue = queueSize }
}

// Start brings up a Device bound to bind. If remote is non-nil, Start runs
// the active side of the handshake (dial remote, probe until a reply
// arrives); if remote is nil, Start runs the passive side (bind and wait to
// learn the peer from an inbound CONNECT probe).
func Start(bind, remote *net.UDPAddr, opts ...Option) (*Device, error) {
	if bind == nil {
		return nil, fmt.Errorf("%w: bind address is nil", ErrInvalidEndpoint)
	}
	if remote != nil && len(bind.IP) > 0 && len(remote.IP) > 0 {
		if bind.IP.To4() != nil && remote.IP.To4() == nil {
			return nil, fmt.Errorf("%w: bind/remote address family mismatch", ErrInvalidEndpoint)
		}
		if bind.IP.To4() == nil && remote.IP.To4() != nil {
			return nil, fmt.Errorf("%w: bind/remote address family mismatch", ErrInvalidEndpoint)
		}
	}

	cfg := deviceConfig{connectAttempts: DefaultConnectAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	if cfg.logger == nil {
		cfg.logger = logging.New(logging.Options{})
	}

	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	d := &Device{
		conn:     conn,
		pending:  make(map[uint32]*sendSlot),
		registry: newHandlerRegistry(),
		clock:    cfg.clock,
		logger:   cfg.logger,
	}
	if cfg.asyncQueue > 0 {
		d.dispatcher = newAsyncDispatcher(cfg.asyncQueue)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.groupStop = cancel
	group, _ := errgroup.WithContext(ctx)
	d.group = group
	d.group.Go(d.receiveLoop)

	if remote != nil {
		interval := DefaultConnectInterval
		if err := d.activeConnect(remote, cfg.connectAttempts, interval); err != nil {
			d.Close()
			return nil, err
		}
	} else {
		d.logger.Info("device: listening, awaiting peer", slog.String("bind", bind.String()))
	}

	return d, nil
}

// RegisterParser associates msgType with handler. Registering the same
// msgType twice returns ErrAlreadyRegistered; the first registration wins.
func (d *Device) RegisterParser(msgType MessageTypeID, handler Handler) error {
	return d.registry.register(msgType, handler)
}

// Close idempotently tears the device down: it stops accepting new
// datagrams, clears the remote, closes the socket, and drains the async
// dispatcher (if any).
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.connected.Store(false)
	d.setRemote(nil)
	err := d.conn.Close()
	d.groupStop()
	_ = d.group.Wait()
	d.dispatcher.stop()
	return err
}

func (d *Device) isConnected() bool {
	return d.connected.Load() && !d.closed.Load()
}

// writePacket sends data to the current remote. Start must already have
// established remote (active dial or passive peer-learning) before any
// caller can reach this — SendReliable/SendUnreliable both gate on
// isConnected first.
func (d *Device) writePacket(data []byte) error {
	remote := d.getRemote()
	if remote == nil {
		return ErrNotConnected
	}
	return d.writeTo(data, remote)
}

func (d *Device) writeTo(data []byte, addr *net.UDPAddr) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.conn.WriteToUDP(data, addr)
	return err
}

func (d *Device) setRemote(addr *net.UDPAddr) {
	d.remoteMu.Lock()
	d.remote = addr
	d.remoteMu.Unlock()
}

func (d *Device) getRemote() *net.UDPAddr {
	d.remoteMu.RLock()
	defer d.remoteMu.RUnlock()
	return d.remote
}

func (d *Device) isFromRemote(addr *net.UDPAddr) bool {
	remote := d.getRemote()
	return remote != nil && sameEndpoint(remote, addr)
}

func (d *Device) addPendingSlot(slot *sendSlot) {
	d.pendingMu.Lock()
	d.pending[slot.sequence] = slot
	d.pendingMu.Unlock()
}

func (d *Device) removePendingSlot(seq uint32) {
	d.pendingMu.Lock()
	delete(d.pending, seq)
	d.pendingMu.Unlock()
}

func (d *Device) findPendingSlot(seq uint32) (*sendSlot, bool) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	slot, ok := d.pending[seq]
	return slot, ok
}

func (d *Device) loadReliableReceive() uint32   { return atomic.LoadUint32(&d.reliableReceive) }
func (d *Device) storeReliableReceive(v uint32) { atomic.StoreUint32(&d.reliableReceive, v) }

func (d *Device) loadUnreliableReceive() uint32   { return atomic.LoadUint32(&d.unreliableReceive) }
func (d *Device) storeUnreliableReceive(v uint32) { atomic.StoreUint32(&d.unreliableReceive, v) }

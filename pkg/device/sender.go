package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// Default retry budget for SendReliable.
const (
	DefaultAttempts = 10
	DefaultInterval = 100 * time.Millisecond
)

// SendOption customizes a single SendReliable call.
type SendOption func(*sendConfig)

type sendConfig struct {
	attempts int
	interval time.Duration
}

// WithAttempts overrides the number of transmission attempts.
func WithAttempts(n int) SendOption {
	return func(c *sendConfig) { c.attempts = n }
}

// WithInterval overrides the wait between attempts.
func WithInterval(d time.Duration) SendOption {
	return func(c *sendConfig) { c.interval = d }
}

// sendSlot records a single in-flight reliable send. ack is closed exactly
// once, by the receive loop, when a RESPONSE for this slot's sequence
// arrives; closing it is Go's idiomatic single-shot wait/notify and is what
// SendReliable blocks on.
type sendSlot struct {
	sequence uint32
	ack      chan struct{}
	once     sync.Once
}

func newSendSlot(seq uint32) *sendSlot {
	return &sendSlot{sequence: seq, ack: make(chan struct{})}
}

// signalAcked marks the slot acked. Safe to call more than once (a duplicate
// or late RESPONSE, or a race with timeout cleanup).
func (s *sendSlot) signalAcked() {
	s.once.Do(func() { close(s.ack) })
}

func (s *sendSlot) isAcked() bool {
	select {
	case <-s.ack:
		return true
	default:
		return false
	}
}

// errAckPending is an internal retry signal for the backoff loop; it never
// escapes SendReliable.
var errAckPending = errors.New("device: ack pending")

// ackOrTimer is a backoff.Timer that wakes on whichever comes first: the
// slot's ack channel closing, or the configured interval elapsing on the
// device's injected clock. This is what lets SendReliable wake early when
// an ack arrives mid-wait while still driving the wait itself off the
// injected clock in tests.
type ackOrTimer struct {
	clock clockwork.Clock
	slot  *sendSlot
	ch    chan time.Time
	stop  chan struct{}
	once  sync.Once
}

func newAckOrTimer(clock clockwork.Clock, slot *sendSlot) *ackOrTimer {
	return &ackOrTimer{clock: clock, slot: slot, ch: make(chan time.Time, 1)}
}

func (t *ackOrTimer) Start(d time.Duration) {
	t.stop = make(chan struct{})
	timer := t.clock.NewTimer(d)
	go func() {
		select {
		case <-t.slot.ack:
			timer.Stop()
			select {
			case t.ch <- t.clock.Now():
			default:
			}
		case now := <-timer.Chan():
			select {
			case t.ch <- now:
			default:
			}
		case <-t.stop:
			timer.Stop()
		}
	}()
}

func (t *ackOrTimer) Stop() {
	t.once.Do(func() {
		if t.stop != nil {
			close(t.stop)
		}
	})
}

func (t *ackOrTimer) C() <-chan time.Time { return t.ch }

// SendReliable blocks until either an ack for its assigned sequence is
// observed or the retry budget (default DefaultAttempts x DefaultInterval,
// overridable via opts) is exhausted.
func (d *Device) SendReliable(msgType MessageTypeID, payload []byte, opts ...SendOption) error {
	if !d.isConnected() {
		return ErrNotConnected
	}
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	cfg := sendConfig{attempts: DefaultAttempts, interval: DefaultInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.attempts < 1 {
		cfg.attempts = 1
	}

	seq := atomic.AddUint32(&d.nextReliableSend, 1) - 1

	pkt, err := encodeData(PacketReliable, seq, msgType, d.clock.Now().UnixNano(), payload)
	if err != nil {
		return err
	}

	slot := newSendSlot(seq)
	d.addPendingSlot(slot)
	defer d.removePendingSlot(seq)

	// Each of the cfg.attempts transmissions must get its own full interval
	// window to be acked, including the last one - so the transmitting
	// operation is capped at cfg.attempts calls, but the backoff policy is
	// given one extra retry beyond that purely to wait out the final
	// transmission's interval before giving up.
	attemptsMade := 0
	operation := func() error {
		if !d.isConnected() {
			return backoff.Permanent(ErrNotConnected)
		}
		if slot.isAcked() {
			return nil
		}
		if attemptsMade < cfg.attempts {
			attemptsMade++
			if err := d.writePacket(pkt); err != nil {
				d.logger.Warn("reliable send: write failed, will retry", slog.Int("attempt", attemptsMade), slog.Any("error", err))
			}
		}
		if slot.isAcked() {
			return nil
		}
		return errAckPending
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("reliable send: retrying",
			slog.Uint64("sequence", uint64(seq)),
			slog.Int("attempt", attemptsMade),
			slog.Duration("wait", wait))
	}

	timer := newAckOrTimer(d.clock, slot)
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.interval), uint64(cfg.attempts))

	// The retry result is not inspected: success is read from the slot, and a
	// send whose retries ended without an ack (budget spent, or the device
	// closed mid-send) reports ErrTimeout.
	_ = backoff.RetryNotifyWithTimer(operation, policy, notify, timer)

	if slot.isAcked() {
		return nil
	}
	return ErrTimeout
}

// SendUnreliable transmits a best-effort datagram with no ack and no retry.
func (d *Device) SendUnreliable(msgType MessageTypeID, payload []byte) error {
	if !d.isConnected() {
		return ErrNotConnected
	}
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	seq := atomic.AddUint32(&d.nextUnreliableSend, 1) - 1
	pkt, err := encodeData(PacketUnreliable, seq, msgType, d.clock.Now().UnixNano(), payload)
	if err != nil {
		return err
	}
	return d.writePacket(pkt)
}

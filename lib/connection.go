package lib

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

// Connection is one end of a reliable session with a single peer. It is not
// safe for concurrent use: every protocol step runs in the caller's goroutine.
type Connection struct {
	id         string
	role       Role
	state      State
	sock       *socket
	ownsSocket bool // initiators own their socket, acceptors borrow the listener's
	peer       *net.UDPAddr

	localSeq  Seq // next sequence this side sends
	lastAcked Seq // last sequence this side accepted, SeqNone before the first

	fault            *FaultInjector
	timeout          time.Duration
	handshakeTimeout time.Duration
	closeTimeout     time.Duration
	maxPayload       int
}

func newConnection(role Role, sock *socket, ownsSocket bool, cfg *config.Config) *Connection {
	var src rand.Source
	if cfg.FaultSeed != 0 {
		src = rand.NewSource(cfg.FaultSeed)
	}
	return &Connection{
		id:               uuid.NewString()[:8],
		role:             role,
		state:            StateClosed,
		sock:             sock,
		ownsSocket:       ownsSocket,
		localSeq:         Seq0,
		lastAcked:        SeqNone,
		fault:            NewFaultInjector(cfg.LossProbability, cfg.CorruptionProbability, src),
		timeout:          cfg.Timeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		closeTimeout:     cfg.CloseTimeout,
		maxPayload:       cfg.BufferSize - dataFrameOverhead,
	}
}

// Dial opens a socket and runs the initiator side of the handshake against
// address. The SYN is sent once: if no SYNACK arrives within the handshake
// timeout the socket is released and the error wraps ErrHandshakeFailed.
func Dial(ctx context.Context, address string, cfg *config.Config) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	sock, err := listenSocket("", cfg)
	if err != nil {
		return nil, err
	}

	c := newConnection(Initiator, sock, true, cfg)
	c.peer = raddr
	if err := c.handshake(ctx); err != nil {
		return nil, multierr.Append(err, sock.close())
	}
	return c, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	c.state = StateHandshaking
	if err := c.sendControl(FlagSYN, 0); err != nil {
		c.state = StateClosed
		return err
	}
	log.Debugf("[%s] SYN sent to %s", c.id, c.peer)

	deadline := time.Now().Add(c.handshakeTimeout)
	for {
		ev, err := c.await(ctx, deadline)
		if err != nil {
			c.state = StateClosed
			return err
		}

		switch ev.kind {
		case eventTimeout:
			c.state = StateClosed
			handshakes.WithLabelValues(Initiator.String(), "timeout").Inc()
			log.Warnf("[%s] no response to SYN from %s", c.id, c.peer)
			return fmt.Errorf("%w: %w", ErrHandshakeFailed,
				&TimeoutError{msg: fmt.Sprintf("no SYNACK from %s within %s", c.peer, c.handshakeTimeout)})
		case eventFrame:
			if ev.frame.Flag != FlagSYNACK {
				c.logUnexpected(ev.frame)
				continue
			}
			log.Debugf("[%s] SYNACK received", c.id)
			if err := c.sendControl(FlagACK, 0); err != nil {
				c.state = StateClosed
				return err
			}
			c.state = StateEstablished
			handshakes.WithLabelValues(Initiator.String(), "established").Inc()
			log.Infof("[%s] connection to %s established", c.id, c.peer)
			return nil
		default:
			log.Debugf("[%s] ignoring bare ACK during handshake", c.id)
		}
	}
}

// Close runs the initiator side of the teardown: FIN with the current
// sequence, then a bounded wait for its ACK. The connection is closed
// locally whether or not the ACK arrives. An initiator's socket is released.
// On an acceptor connection Close only drops local state; see AcceptClose.
func (c *Connection) Close(ctx context.Context) error {
	if c.role == Acceptor || c.state == StateClosed {
		c.state = StateClosed
		return c.release()
	}

	c.state = StateClosing
	err := c.teardown(ctx)
	c.state = StateClosed
	return multierr.Append(err, c.release())
}

func (c *Connection) teardown(ctx context.Context) error {
	fin := NewFrame(FlagFIN, int(c.localSeq), nil).Marshal()
	if err := c.transmitControl(fin, FlagFIN); err != nil {
		return err
	}
	log.Debugf("[%s] FIN,%s sent", c.id, c.localSeq)

	deadline := time.Now().Add(c.closeTimeout)
	for {
		ev, err := c.await(ctx, deadline)
		if err != nil {
			return err
		}

		switch ev.kind {
		case eventTimeout:
			log.Infof("[%s] no ACK for FIN, assuming connection closed", c.id)
			return nil
		case eventFrame:
			if ev.frame.Flag == FlagACK {
				log.Infof("[%s] connection closed gracefully", c.id)
				return nil
			}
			if c.reackDuplicate(ev.frame) {
				// the peer never saw our last ACK, so it cannot have seen the FIN either
				if err := c.transmitControl(fin, FlagFIN); err != nil {
					return err
				}
				continue
			}
			c.logUnexpected(ev.frame)
		}
	}
}

// AcceptClose runs the acceptor side of the teardown. It waits, without a
// bound, for a valid FIN from the peer, answers with an ACK carrying the
// FIN's sequence and reports true.
func (c *Connection) AcceptClose(ctx context.Context) (bool, error) {
	if c.state != StateEstablished {
		return false, ErrNotEstablished
	}
	c.state = StateClosing

	for {
		ev, err := c.await(ctx, time.Now().Add(c.timeout))
		if err != nil {
			return false, err
		}

		switch ev.kind {
		case eventTimeout:
			log.Debugf("[%s] waiting for FIN", c.id)
		case eventFrame:
			if ev.frame.Flag != FlagFIN {
				if !c.reackDuplicate(ev.frame) {
					c.logUnexpected(ev.frame)
				}
				continue
			}
			log.Debugf("[%s] FIN,%d received", c.id, ev.frame.Seq)
			if err := c.sendControl(FlagACK, ev.frame.Seq); err != nil {
				return false, err
			}
			c.state = StateClosed
			log.Infof("[%s] ACK sent, connection with %s closed", c.id, c.peer)
			return true, nil
		}
	}
}

func (c *Connection) release() error {
	if !c.ownsSocket || c.sock == nil {
		return nil
	}
	sock := c.sock
	c.sock = nil
	return sock.close()
}

// await waits for the next event from the peer. Datagrams from other
// addresses and invalid frames are discarded here and never reach a state.
func (c *Connection) await(ctx context.Context, deadline time.Time) (event, error) {
	if c.sock == nil {
		return event{}, net.ErrClosed
	}
	for {
		ev, err := c.sock.await(ctx, deadline)
		if err != nil || ev.kind == eventTimeout {
			return ev, err
		}
		if !sameAddr(ev.from, c.peer) {
			log.Debugf("[%s] ignoring datagram from foreign address %s", c.id, ev.from)
			continue
		}
		if ev.kind == eventInvalid {
			log.Debugf("[%s] dropped invalid datagram: %v", c.id, ev.err)
			continue
		}
		return ev, nil
	}
}

func (c *Connection) sendControl(flag Flag, seq int) error {
	return c.transmitControl(NewFrame(flag, seq, nil).Marshal(), flag)
}

// transmitControl sends a control frame. Control frames bypass the fault injector.
func (c *Connection) transmitControl(frame []byte, flag Flag) error {
	if err := c.sock.writeTo(frame, c.peer); err != nil {
		return fmt.Errorf("send %s: %w", flag, err)
	}
	framesSent.WithLabelValues(string(flag)).Inc()
	return nil
}

func (c *Connection) logUnexpected(f *Frame) {
	err := &UnexpectedFlagError{State: c.state, Got: f.Flag}
	log.Debugf("[%s] %v, ignored", c.id, err)
}

// Role returns the side this connection plays.
func (c *Connection) Role() Role {
	return c.role
}

// State returns the current protocol state.
func (c *Connection) State() State {
	return c.state
}

// RemoteAddr returns the peer bound by the handshake.
func (c *Connection) RemoteAddr() *net.UDPAddr {
	return c.peer
}

// LocalAddr returns the address of the underlying socket, nil once released.
func (c *Connection) LocalAddr() *net.UDPAddr {
	if c.sock == nil {
		return nil
	}
	return c.sock.localAddr()
}

// SetFaultInjector replaces the injector built from the configuration.
func (c *Connection) SetFaultInjector(f *FaultInjector) {
	c.fault = f
}

package lib

import (
	"context"
	"net"
	"time"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

// Listener owns a bound socket and hands out one acceptor connection at a
// time. Connections it returns share its socket; serve them one after
// another and Close the listener when done.
type Listener struct {
	sock *socket
	cfg  *config.Config
}

// Listen binds address for the acceptor side.
func Listen(address string, cfg *config.Config) (*Listener, error) {
	sock, err := listenSocket(address, cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("listening on %s", sock.localAddr())
	return &Listener{sock: sock, cfg: cfg}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.UDPAddr {
	return l.sock.localAddr()
}

// Close releases the socket. Blocked Accept or connection calls fail with an I/O error.
func (l *Listener) Close() error {
	return l.sock.close()
}

// Accept runs the acceptor side of the handshake: wait for a valid SYN from
// anyone, answer SYNACK, then wait for that peer's ACK. If the ACK does not
// come within the handshake timeout the SYNACK is not resent; Accept goes
// back to waiting for a fresh SYN. While it waits for one peer's ACK, SYNs
// from any other address are discarded, including a DialWithRetry attempt
// from a fresh socket; that attempt fails and the next one may succeed.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	for {
		ev, err := l.sock.await(ctx, time.Now().Add(l.cfg.Timeout))
		if err != nil {
			return nil, err
		}

		switch ev.kind {
		case eventTimeout:
			log.Debugf("waiting for SYN")
			continue
		case eventFrame:
			if ev.frame.Flag != FlagSYN {
				log.Debugf("ignoring %s from %s while waiting for SYN", ev.frame, ev.from)
				continue
			}
		default:
			continue
		}

		c := newConnection(Acceptor, l.sock, false, l.cfg)
		c.peer = ev.from
		c.state = StateHandshaking
		log.Debugf("[%s] SYN received from %s", c.id, c.peer)

		if err := c.sendControl(FlagSYNACK, 0); err != nil {
			return nil, err
		}
		established, err := c.awaitHandshakeAck(ctx)
		if err != nil {
			return nil, err
		}
		if established {
			return c, nil
		}
	}
}

func (c *Connection) awaitHandshakeAck(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(c.handshakeTimeout)
	for {
		ev, err := c.await(ctx, deadline)
		if err != nil {
			c.state = StateClosed
			return false, err
		}

		switch ev.kind {
		case eventTimeout:
			c.state = StateClosed
			handshakes.WithLabelValues(Acceptor.String(), "timeout").Inc()
			log.Warnf("[%s] no ACK for SYNACK from %s, waiting for a new SYN", c.id, c.peer)
			return false, nil
		case eventFrame:
			if ev.frame.Flag != FlagACK {
				c.logUnexpected(ev.frame)
				continue
			}
			c.state = StateEstablished
			handshakes.WithLabelValues(Acceptor.String(), "established").Inc()
			log.Infof("[%s] connection from %s established", c.id, c.peer)
			return true, nil
		}
	}
}

package lib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

// aLongTimeAgo is used to unblock a pending read.
var aLongTimeAgo = time.Unix(1, 0)

// socket is the single datagram endpoint behind one or more connections.
// Whoever creates it releases it. Reads always accept a full-size datagram,
// whatever BufferSize the peer was configured with.
type socket struct {
	conn *net.UDPConn
}

func listenSocket(address string, cfg *config.Config) (*socket, error) {
	var laddr *net.UDPAddr
	if address != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp4", address)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", address, err)
		}
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}

	if cfg.TTL > 0 {
		if err := ipv4.NewConn(conn).SetTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set ttl %d: %w", cfg.TTL, err)
		}
	}

	initPool(cfg)

	return &socket{conn: conn}, nil
}

func (s *socket) localAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *socket) writeTo(b []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(b, addr)
	return err
}

func (s *socket) close() error {
	return s.conn.Close()
}

// readFrom reads one datagram under the current read deadline. The returned
// slice is owned by the caller.
func (s *socket) readFrom() ([]byte, *net.UDPAddr, error) {
	var dg *Datagram
	if chunk := Pool.GetElement(); chunk != nil {
		defer Pool.ReturnElement(chunk)
		dg, _ = chunk.Data.(*Datagram)
	}
	if dg == nil || len(dg.Buffer()) < config.MaxDatagramSize {
		buf := make([]byte, config.MaxDatagramSize)
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, nil, err
		}
		return buf[:n], addr, nil
	}

	n, addr, err := s.conn.ReadFromUDP(dg.Buffer()[:config.MaxDatagramSize])
	if err != nil {
		return nil, nil, err
	}
	dg.SetLength(n)
	return dg.Bytes(), addr, nil
}

type eventKind int

const (
	eventTimeout eventKind = iota
	eventFrame             // valid checksummed frame
	eventDataAck           // bare "ACK,<seq>"
	eventInvalid           // decode or checksum failure
)

// event is what a state waits for: one datagram, classified, or a timeout.
type event struct {
	kind  eventKind
	frame *Frame
	ack   Seq
	from  *net.UDPAddr
	err   error // reason for eventInvalid
}

// await is the single suspension point of the protocol. It blocks until a
// datagram arrives or deadline passes. Cancelling ctx unblocks the read and
// returns ctx.Err(); any other socket error is returned as is.
func (s *socket) await(ctx context.Context, deadline time.Time) (event, error) {
	if err := ctx.Err(); err != nil {
		return event{}, err
	}

	// the deadline must be in place before the cancel hook can override it
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return event{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(aLongTimeAgo)
	})
	data, from, err := s.readFrom()
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return event{}, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return event{kind: eventTimeout}, nil
		}
		return event{}, err
	}

	return classify(data, from), nil
}

func classify(data []byte, from *net.UDPAddr) event {
	if seq, ok := parseAckText(data); ok {
		return event{kind: eventDataAck, ack: seq, from: from}
	}

	frame, err := Decode(data)
	if err != nil {
		framesDiscarded.WithLabelValues("decode").Inc()
		return event{kind: eventInvalid, from: from, err: err}
	}
	if !frame.Valid() {
		framesDiscarded.WithLabelValues("checksum").Inc()
		return event{kind: eventInvalid, from: from, err: ErrChecksumMismatch}
	}

	framesReceived.WithLabelValues(string(frame.Flag)).Inc()
	return event{kind: eventFrame, frame: frame, from: from}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.Port == b.Port && a.IP.Equal(b.IP)
}

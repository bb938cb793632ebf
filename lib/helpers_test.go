package lib

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeout = 50 * time.Millisecond
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.CloseTimeout = 200 * time.Millisecond
	cfg.BufferSize = 4096
	return cfg
}

func testContext(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// rawPeer is a scripted endpoint speaking the wire format by hand.
type rawPeer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newRawPeer(t *testing.T) *rawPeer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn}
}

func (p *rawPeer) addr() *net.UDPAddr {
	return p.conn.LocalAddr().(*net.UDPAddr)
}

func (p *rawPeer) send(to *net.UDPAddr, b []byte) {
	p.t.Helper()
	_, err := p.conn.WriteToUDP(b, to)
	require.NoError(p.t, err)
}

// read returns the next datagram, or nil when none arrives within d.
func (p *rawPeer) read(d time.Duration) ([]byte, *net.UDPAddr) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 65535)
	n, from, err := p.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		require.ErrorAs(p.t, err, &netErr)
		require.True(p.t, netErr.Timeout(), "unexpected read error: %v", err)
		return nil, nil
	}
	return buf[:n], from
}

// readFrame reads and decodes a checksummed frame.
func (p *rawPeer) readFrame(d time.Duration) (*Frame, *net.UDPAddr) {
	p.t.Helper()
	data, from := p.read(d)
	require.NotNil(p.t, data, "no frame within %s", d)
	f, err := Decode(data)
	require.NoError(p.t, err)
	require.True(p.t, f.Valid(), "invalid checksum on %q", data)
	return f, from
}

// acceptFrom completes the acceptor handshake against a scripted initiator
// and returns the established connection.
func acceptFrom(t *testing.T, l *Listener, p *rawPeer) *Connection {
	t.Helper()
	ctx := testContext(t, 2*time.Second)

	type result struct {
		c   *Connection
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := l.Accept(ctx)
		done <- result{c, err}
	}()

	p.send(l.Addr(), Encode(FlagSYN, 0, nil))
	f, _ := p.readFrame(time.Second)
	require.Equal(t, FlagSYNACK, f.Flag)
	p.send(l.Addr(), Encode(FlagACK, 0, nil))

	r := <-done
	require.NoError(t, r.err)
	return r.c
}

func listen(t *testing.T, cfg *config.Config) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// dialTo completes the initiator handshake against a scripted acceptor.
func dialTo(t *testing.T, p *rawPeer, cfg *config.Config) (*Connection, *net.UDPAddr) {
	t.Helper()
	ctx := testContext(t, 2*time.Second)

	type result struct {
		c   *Connection
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := Dial(ctx, p.addr().String(), cfg)
		done <- result{c, err}
	}()

	f, from := p.readFrame(time.Second)
	require.Equal(t, FlagSYN, f.Flag)
	p.send(from, Encode(FlagSYNACK, 0, nil))
	f, _ = p.readFrame(time.Second)
	require.Equal(t, FlagACK, f.Flag)

	r := <-done
	require.NoError(t, r.err)
	t.Cleanup(func() { r.c.release() })
	return r.c, from
}

// readAck reads datagrams until a bare DATA acknowledgment arrives.
func (p *rawPeer) readAck(d time.Duration) (Seq, bool) {
	p.t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		data, _ := p.read(time.Until(deadline))
		if data == nil {
			break
		}
		if seq, ok := parseAckText(data); ok {
			return seq, true
		}
	}
	return SeqNone, false
}

// readData returns the next datagram within d, nil if there is none.
func (p *rawPeer) readData(d time.Duration) []byte {
	p.t.Helper()
	data, _ := p.read(d)
	return data
}

// nextData skips retransmissions until a DATA frame with seq arrives.
func (p *rawPeer) nextData(seq Seq, d time.Duration) *Frame {
	p.t.Helper()
	deadline := time.Now().Add(d)
	for {
		f, _ := p.readFrame(time.Until(deadline))
		if f.Flag == FlagDATA && f.Seq == int(seq) {
			return f
		}
	}
}

package lib

import (
	"fmt"
	"sync"

	rp "github.com/Clouded-Sabre/ringpool/lib"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

var (
	// Pool holds the receive buffers shared by all sockets of the process.
	Pool     *rp.RingPool
	poolOnce sync.Once
)

// initPool creates Pool on first use. Every element holds a full-size
// datagram; later calls keep the first pool.
func initPool(cfg *config.Config) {
	poolOnce.Do(func() {
		Pool = rp.NewRingPool("RUDP: ", cfg.PayloadPoolSize, NewDatagram, config.MaxDatagramSize)
		Pool.Debug = cfg.PoolDebug
	})
}

// Datagram is a pooled receive buffer.
type Datagram struct {
	buf    []byte
	length int
}

// NewDatagram is the pool's element constructor; its only parameter is the buffer length.
func NewDatagram(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Errorf("NewDatagram: expected 1 parameter (buffer length), got %d", len(params))
		return nil
	}
	size, ok := params[0].(int)
	if !ok || size <= 0 {
		log.Errorf("NewDatagram: invalid buffer length %v", params[0])
		return nil
	}
	return &Datagram{buf: make([]byte, size)}
}

// Reset zeroes the used part of the buffer.
func (d *Datagram) Reset() {
	clear(d.buf[:d.length])
	d.length = 0
}

// PrintContent prints the content of the datagram.
func (d *Datagram) PrintContent() {
	fmt.Println("Content:", string(d.buf[:d.length]))
}

// Buffer exposes the full backing array for a read.
func (d *Datagram) Buffer() []byte {
	return d.buf
}

// SetLength records how many bytes a read put into the buffer.
func (d *Datagram) SetLength(n int) {
	d.length = n
}

// Bytes returns a copy of the content, safe to keep after the datagram goes back to the pool.
func (d *Datagram) Bytes() []byte {
	out := make([]byte, d.length)
	copy(out, d.buf[:d.length])
	return out
}

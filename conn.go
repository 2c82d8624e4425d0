package quicclient

import (
	"net"
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

// receivedPacket is one UDP datagram read off the wire.
type receivedPacket struct {
	remoteAddr net.Addr
	data       []byte
	rcvTime    time.Time
}

// connection is the narrow abstraction newConn hides the platform split
// behind: a read/write pair over a UDP socket, with TOS marking on the
// write side (spec §7's anti-probe TOS policy, and the ECT marking a
// togglable ECNMode asks for).
type connection interface {
	ReadPacket() (*receivedPacket, error)
	WritePacket(b []byte, addr net.Addr, tos protocol.TOS) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// basicConn is the fallback connection for platforms without a TOS
// implementation: every packet goes out at the socket's default TOS.
type basicConn struct {
	net.PacketConn
}

var _ connection = &basicConn{}

func (c *basicConn) ReadPacket() (*receivedPacket, error) {
	buf := make([]byte, protocol.MaxPacketBufferSize)
	n, addr, err := c.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	return &receivedPacket{
		remoteAddr: addr,
		data:       buf[:n],
		rcvTime:    time.Now(),
	}, nil
}

func (c *basicConn) WritePacket(b []byte, addr net.Addr, _ protocol.TOS) (int, error) {
	return c.WriteTo(b, addr)
}

package quicclient

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/utils"
)

// A sendConn allows sending using a simple Write() on a non-connected packet conn.
type sendConn interface {
	Write([]byte, protocol.TOS) error
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

type sconn struct {
	connection

	remoteAddr net.Addr
	tos        protocol.TOS
}

var _ sendConn = &sconn{}

func newSendConn(c connection, remote net.Addr) sendConn {
	return &sconn{
		connection: c,
		remoteAddr: remote,
		tos:        protocol.TOSDefault,
	}
}

// newSendConnFor picks the cheapest sendConn wrapper available for pc.
// dialUDP always hands back a connected *net.UDPConn once Happy Eyeballs
// has a winner, so this prefers spconnConnected's plain Write() over
// sconn's per-packet WritePacket(addr, ...); pc being anything else
// (hypothetically, a caller-supplied non-UDP PacketConn) falls back to
// the general wrapper around conn.
func newSendConnFor(conn connection, pc net.PacketConn, remote net.Addr) sendConn {
	if sc := newSendPconnConnected(pc, remote); sc != nil {
		return sc
	}
	return newSendConn(conn, remote)
}

func (c *sconn) Write(p []byte, t protocol.TOS) error {
	c.tos = t
	_, err := c.WritePacket(p, c.remoteAddr, t)
	return err
}

func (c *sconn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *sconn) LocalAddr() net.Addr {
	return c.connection.LocalAddr()
}

type spconnConnected struct {
	*net.UDPConn

	tos protocol.TOS
}

func newSendPconnConnected(c net.PacketConn, remote net.Addr) sendConn {
	udpc, ok := c.(*net.UDPConn)
	if ok {
		return &spconnConnected{UDPConn: udpc, tos: protocol.TOSDefault}
	}
	return nil
}

func (c *spconnConnected) Write(p []byte, t protocol.TOS) error {
	if t != c.tos {
		if err := c.setTOS(t); err != nil {
			return err
		}
		c.tos = t
	}
	_, err := c.UDPConn.Write(p)
	return err
}

func (c *spconnConnected) setTOS(t protocol.TOS) error {
	if utils.AddrIsIPv4(c.RemoteAddr()) {
		return ipv4.NewConn(c.UDPConn).SetTOS(int(t))
	}
	return ipv6.NewConn(c.UDPConn).SetTrafficClass(int(t))
}

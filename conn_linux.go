// +build linux

package quicclient

import (
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/utils"
)

// oobConn is the linux connection: it marks outgoing datagrams with the
// requested TOS/ECN codepoint via the socket-level IP_TOS/IPV6_TCLASS
// option, the unconnected-socket analog of the SetTOS/SetTrafficClass
// calls send_conn.go already makes for a connected *net.UDPConn.
type oobConn struct {
	net.PacketConn

	mu  sync.Mutex
	tos protocol.TOS
	set bool
}

var _ connection = &oobConn{}

func newConn(c net.PacketConn) (connection, error) {
	return &oobConn{PacketConn: c}, nil
}

func (c *oobConn) ReadPacket() (*receivedPacket, error) {
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

func (c *oobConn) WritePacket(b []byte, addr net.Addr, tos protocol.TOS) (int, error) {
	c.mu.Lock()
	if !c.set || tos != c.tos {
		if err := c.setTOS(addr, tos); err != nil {
			c.mu.Unlock()
			return 0, err
		}
		c.tos = tos
		c.set = true
	}
	c.mu.Unlock()
	return c.WriteTo(b, addr)
}

func (c *oobConn) setTOS(addr net.Addr, t protocol.TOS) error {
	udpConn, ok := c.PacketConn.(*net.UDPConn)
	if !ok {
		return nil
	}
	if utils.AddrIsIPv4(addr) {
		return ipv4.NewPacketConn(udpConn).SetTOS(int(t))
	}
	return ipv6.NewPacketConn(udpConn).SetTrafficClass(int(t))
}

// inspectReadBuffer reports the kernel's SO_RCVBUF size for a UDP socket
// (any value with a SyscallConn method, such as *net.UDPConn); for any
// other value it returns 0. Nothing in the package calls it.
func inspectReadBuffer(c interface{}) (int, error) {
	conn, ok := c.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return 0, nil
	}
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var sockoptErr error
	err = rc.Control(func(fd uintptr) {
		size, sockoptErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, sockoptErr
}

type syscallConn interface {
	Control(f func(fd uintptr)) error
}

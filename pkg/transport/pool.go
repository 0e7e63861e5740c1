package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

// PopTimeout bounds how long request() waits for a pooled stream before
// dialing fresh would-be head-of-line blocking instead resolves as a
// timeout error, per spec.md §4.B / §5.
const PopTimeout = 2 * time.Second

// MaxIdlePerPeer is the process-wide connection limit per peer.
const MaxIdlePerPeer = 4

type peerPool struct {
	mu   sync.Mutex
	idle []net.Conn
	sem  chan struct{}
}

// OutboundPool maintains a bounded pool of idle authenticated TCP
// streams per peer address, and serializes UDP fire-and-forget sends.
type OutboundPool struct {
	secret  uint64
	hasAuth bool

	mu    sync.Mutex
	peers map[string]*peerPool

	udpConn *net.UDPConn
}

func NewOutboundPool(secret uint64, hasAuth bool, udpConn *net.UDPConn) *OutboundPool {
	return &OutboundPool{secret: secret, hasAuth: hasAuth, peers: make(map[string]*peerPool), udpConn: udpConn}
}

func (p *OutboundPool) peerFor(addr string) *peerPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.peers[addr]
	if !ok {
		pp = &peerPool{sem: make(chan struct{}, MaxIdlePerPeer)}
		p.peers[addr] = pp
	}
	return pp
}

// Request performs a TCP request/response against addr: pop or dial an
// authenticated stream, write the frame, read the response, and return
// the stream to the pool on success (discard on any I/O error).
func (p *OutboundPool) Request(ctx context.Context, addr *net.TCPAddr, msgID uint16, body []byte) (wire.Header, []byte, error) {
	pp := p.peerFor(addr.String())

	conn, err := p.popOrDial(ctx, pp, addr)
	if err != nil {
		return wire.Header{}, nil, err
	}

	h := wire.NewHeader(len(body), msgID, 0)
	hdrBuf := Shared.Get(wire.HeaderLen)
	defer Shared.Put(hdrBuf)
	h.Encode(hdrBuf)

	if _, err := conn.Write(hdrBuf); err != nil {
		_ = conn.Close()
		return wire.Header{}, nil, err
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			_ = conn.Close()
			return wire.Header{}, nil, err
		}
	}

	respHdrBuf := make([]byte, wire.HeaderLen)
	if _, err := readFull(conn, respHdrBuf); err != nil {
		_ = conn.Close()
		return wire.Header{}, nil, err
	}
	respHdr, err := wire.DecodeHeader(respHdrBuf)
	if err != nil {
		_ = conn.Close()
		return wire.Header{}, nil, err
	}
	respBody := make([]byte, respHdr.BodyLen())
	if _, err := readFull(conn, respBody); err != nil {
		_ = conn.Close()
		return wire.Header{}, nil, err
	}

	p.returnToPool(pp, conn)
	return respHdr, respBody, nil
}

// Send is the fire-and-forget half of spec.md §4.B's `send(peer, msg)`:
// it writes one UDP datagram (header + body) to addr over the pool's
// dedicated outbound socket and does not wait for a reply. Used for
// fan-out notifications, where the caller (if it cares about delivery)
// gates on a separately observed ack id rather than a response frame.
func (p *OutboundPool) Send(addr *net.UDPAddr, msgID uint16, body []byte) error {
	h := wire.NewHeader(len(body), msgID, 0)
	out := make([]byte, wire.HeaderLen+len(body))
	h.Encode(out)
	copy(out[wire.HeaderLen:], body)
	_, err := p.udpConn.WriteToUDP(out, addr)
	return err
}

// Broadcast sends msgID/body over UDP to every address in addrs,
// best-effort: one unreachable address does not stop the others.
func (p *OutboundPool) Broadcast(addrs []*net.UDPAddr, msgID uint16, body []byte) {
	for _, addr := range addrs {
		_ = p.Send(addr, msgID, body)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *OutboundPool) popOrDial(ctx context.Context, pp *peerPool, addr *net.TCPAddr) (net.Conn, error) {
	pp.mu.Lock()
	if len(pp.idle) > 0 {
		conn := pp.idle[len(pp.idle)-1]
		pp.idle = pp.idle[:len(pp.idle)-1]
		pp.mu.Unlock()
		return conn, nil
	}
	pp.mu.Unlock()

	popCtx, cancel := context.WithTimeout(ctx, PopTimeout)
	defer cancel()

	select {
	case pp.sem <- struct{}{}:
	case <-popCtx.Done():
		return nil, fmt.Errorf("transport: timed out acquiring connection permit for %s", addr)
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		<-pp.sem
		return nil, err
	}
	if p.hasAuth {
		if err := p.authenticate(conn); err != nil {
			_ = conn.Close()
			<-pp.sem
			return nil, err
		}
	}
	return &pooledConn{Conn: conn, release: func() { <-pp.sem }}, nil
}

func (p *OutboundPool) returnToPool(pp *peerPool, conn net.Conn) {
	pp.mu.Lock()
	pp.idle = append(pp.idle, conn)
	pp.mu.Unlock()
}

// authenticate sends AuthenticateChannel on a freshly dialed outbound
// stream before any other message, per spec.md §4.B.
func (p *OutboundPool) authenticate(conn net.Conn) error {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body, p.secret)
	h := wire.NewHeader(len(body), wire.MsgAuthenticateChannel, 0)
	hdrBuf := make([]byte, wire.HeaderLen)
	h.Encode(hdrBuf)
	if _, err := conn.Write(hdrBuf); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}

// pooledConn releases its semaphore permit back to the peer pool when
// closed (on I/O error, the caller discards rather than returning it).
type pooledConn struct {
	net.Conn
	release func()
}

func (c *pooledConn) Close() error {
	c.release()
	return c.Conn.Close()
}

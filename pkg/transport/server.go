package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

// Dispatcher decodes and executes one message body, returning an
// optional response body to write back on the same stream/datagram.
// pkg/wireserver implements this; transport only depends on the
// interface to avoid a import cycle between the two packages, the same
// indirection the teacher's adapter/nfs dispatch uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, auth *ChannelAuth, peer net.Addr, h wire.Header, body []byte) (respMsgID uint16, respBody []byte, hasResp bool)
}

// MaxDatagram bounds a single UDP read, per spec.md §4.B.
const MaxDatagram = 65535

// Server owns the inbound TCP and UDP listeners.
type Server struct {
	dispatcher Dispatcher
	secret     uint64
	hasAuth    bool
}

func NewServer(d Dispatcher, secret uint64, hasAuth bool) *Server {
	return &Server{dispatcher: d, secret: secret, hasAuth: hasAuth}
}

// ServeTCP accepts connections until ctx is cancelled, running one read
// loop goroutine per connection.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	auth := NewChannelAuth(s.secret, s.hasAuth)

	hdrBuf := make([]byte, wire.HeaderLen)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			return
		}
		h, err := wire.DecodeHeader(hdrBuf)
		if err != nil {
			logger.Warn(ctx, "dropping connection on frame error", "err", err, "peer", conn.RemoteAddr())
			return
		}
		body := Shared.Get(h.BodyLen())
		if _, err := io.ReadFull(conn, body); err != nil {
			Shared.Put(body)
			return
		}

		respMsgID, respBody, hasResp := s.dispatcher.Dispatch(ctx, auth, conn.RemoteAddr(), h, body)
		Shared.Put(body)
		if !hasResp {
			continue
		}

		respHdr := wire.NewHeader(len(respBody), respMsgID, 0)
		outHdr := make([]byte, wire.HeaderLen)
		respHdr.Encode(outHdr)
		if _, err := conn.Write(outHdr); err != nil {
			return
		}
		if len(respBody) > 0 {
			if _, err := conn.Write(respBody); err != nil {
				return
			}
		}
	}
}

// ServeUDP reads datagrams until ctx is cancelled, spawning a bounded
// number of concurrent decode/dispatch tasks via errgroup so one slow
// handler cannot stall the read loop indefinitely, while still applying
// backpressure once the group's concurrency is saturated.
func (s *Server) ServeUDP(ctx context.Context, conn *net.UDPConn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(64)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		buf := Shared.Get(MaxDatagram)
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			Shared.Put(buf)
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			continue
		}
		data := buf[:n]

		g.Go(func() error {
			defer Shared.Put(buf)
			s.handleDatagram(gctx, conn, src, data)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) handleDatagram(ctx context.Context, conn *net.UDPConn, src *net.UDPAddr, data []byte) {
	if len(data) < wire.HeaderLen {
		return
	}
	h, err := wire.DecodeHeader(data[:wire.HeaderLen])
	if err != nil {
		return
	}
	body := data[wire.HeaderLen:]
	if len(body) < h.BodyLen() {
		return
	}
	body = body[:h.BodyLen()]

	// UDP is never authenticated, per spec.md §4.B.
	auth := NewChannelAuth(0, false)
	respMsgID, respBody, hasResp := s.dispatcher.Dispatch(ctx, auth, src, h, body)
	if !hasResp {
		return
	}
	respHdr := wire.NewHeader(len(respBody), respMsgID, 0)
	out := make([]byte, wire.HeaderLen+len(respBody))
	respHdr.Encode(out)
	copy(out[wire.HeaderLen:], respBody)
	_, _ = conn.WriteToUDP(out, src)
}

package link

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/encodeous/skein/state"
	"github.com/fxamacker/cbor/v2"
	"github.com/quic-go/quic-go"
)

const quicALPN = "skein"

// Quic links nodes over QUIC. Each connection carries one bidirectional stream of CBOR encoded packets.
type Quic struct {
	cfg  state.QuicCfg
	log  *slog.Logger
	sink state.LinkSink

	ctx      context.Context
	cancel   context.CancelFunc
	listener *quic.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*quicConn
}

type quicConn struct {
	edge   string
	conn   *quic.Conn
	stream *quic.Stream
	wmu    sync.Mutex
	enc    *cbor.Encoder
}

func (c *quicConn) write(pkt *state.NetPacket) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(pkt)
}

func NewQuic(cfg state.QuicCfg, log *slog.Logger) *Quic {
	if cfg.DialRetry == 0 {
		cfg.DialRetry = state.QuicDialRetry
	}
	return &Quic{
		cfg:   cfg,
		log:   log.With("transport", "quic"),
		conns: make(map[string]*quicConn),
	}
}

func (q *Quic) Name() string {
	return "quic"
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: state.QuicKeepAlive,
		MaxIdleTimeout:  state.QuicMaxIdleTimeout,
	}
}

// selfSignedCert makes an ephemeral certificate. Peers are not authenticated by TLS, only by the trust predicate.
func selfSignedCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

func (q *Quic) Start(ctx context.Context, sink state.LinkSink) error {
	q.sink = sink
	q.ctx, q.cancel = context.WithCancel(ctx)

	if q.cfg.Listen != "" {
		cert, err := selfSignedCert()
		if err != nil {
			q.cancel()
			return fmt.Errorf("generate certificate: %w", err)
		}
		ln, err := quic.ListenAddr(q.cfg.Listen, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicALPN},
		}, quicConfig())
		if err != nil {
			q.cancel()
			return fmt.Errorf("listen %s: %w", q.cfg.Listen, err)
		}
		q.listener = ln
		q.log.Info("listening", "addr", ln.Addr().String())
		q.wg.Add(1)
		go q.acceptLoop()
	}

	for _, peer := range q.cfg.Peers {
		q.wg.Add(1)
		go q.dialLoop(peer)
	}
	return nil
}

// Addr is the bound listen address, or nil if not listening
func (q *Quic) Addr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (q *Quic) acceptLoop() {
	defer q.wg.Done()
	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.ctx.Err() == nil {
				q.log.Debug("accept failed", "error", err)
			}
			return
		}
		remote := conn.RemoteAddr().String()
		if !q.sink.Trusted(hostOf(remote)) {
			_ = conn.CloseWithError(1, "untrusted")
			continue
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			stream, err := conn.AcceptStream(q.ctx)
			if err != nil {
				_ = conn.CloseWithError(0, "")
				return
			}
			q.serve(conn, stream, "quic/"+remote)
		}()
	}
}

func (q *Quic) dialLoop(peer string) {
	defer q.wg.Done()
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	for q.ctx.Err() == nil {
		if q.sink.Trusted(hostOf(peer)) {
			conn, err := quic.DialAddr(q.ctx, peer, tlsConf, quicConfig())
			if err == nil {
				stream, err := conn.OpenStreamSync(q.ctx)
				if err == nil {
					q.serve(conn, stream, "quic/"+peer)
				} else {
					_ = conn.CloseWithError(0, "")
				}
			} else if q.ctx.Err() == nil {
				q.log.Debug("dial failed", "peer", peer, "error", err)
			}
		}
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.cfg.DialRetry):
		}
	}
}

// serve reads packets from one connection until it fails
func (q *Quic) serve(conn *quic.Conn, stream *quic.Stream, edge string) {
	c := &quicConn{
		edge:   edge,
		conn:   conn,
		stream: stream,
		enc:    state.NewEncoder(stream),
	}
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		_ = conn.CloseWithError(0, "")
		return
	}
	q.conns[edge] = c
	q.mu.Unlock()
	q.log.Debug("connected", "edge", edge)
	q.sink.Connected(edge)

	dec := state.NewDecoder(stream)
	for {
		var pkt state.NetPacket
		if err := dec.Decode(&pkt); err != nil {
			if q.ctx.Err() == nil {
				q.log.Debug("connection lost", "edge", edge, "error", err)
			}
			break
		}
		q.sink.Receive(&pkt, edge, c.write)
	}

	q.mu.Lock()
	if q.conns[edge] == c {
		delete(q.conns, edge)
	}
	q.mu.Unlock()
	_ = conn.CloseWithError(0, "")
}

func (q *Quic) Broadcast(pkt *state.NetPacket) error {
	q.mu.Lock()
	conns := make([]*quicConn, 0, len(q.conns))
	for _, c := range q.conns {
		conns = append(conns, c)
	}
	q.mu.Unlock()
	var errs []error
	for _, c := range conns {
		if err := c.write(pkt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.edge, err))
		}
	}
	return errors.Join(errs...)
}

func (q *Quic) Close() error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	var err error
	if q.listener != nil {
		err = q.listener.Close()
	}
	q.mu.Lock()
	for _, c := range q.conns {
		_ = c.conn.CloseWithError(0, "closing")
	}
	q.mu.Unlock()
	q.wg.Wait()
	return err
}

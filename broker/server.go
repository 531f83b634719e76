package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/metric"
	"github.com/c360/squawkbus/pkg/retry"
	"github.com/c360/squawkbus/wire"
)

// DefaultPort is the broker's default listening port.
const DefaultPort = 22000

// readBufferSize is the per-connection socket read buffer.
const readBufferSize = 64 * 1024

// Config carries the server's transport settings.
type Config struct {
	Port          int         // TCP listener port; DefaultPort when zero
	WSPort        int         // WebSocket listener port; 0 disables
	TLS           *tls.Config // nil for plaintext
	QueueCapacity int         // outbound frames per session; DefaultQueueCapacity when zero
	MaxFrameSize  int         // wire.DefaultMaxFrameSize when zero
}

// Server accepts client connections and binds each one to a hub
// session with a reader and a writer goroutine.
type Server struct {
	cfg     Config
	hub     *Hub
	metrics *metric.Metrics
	logger  *slog.Logger
	nextID  atomic.Uint64
}

// NewServer creates a server over the hub. metrics may be nil.
func NewServer(cfg Config, hub *Hub, metrics *metric.Metrics, logger *slog.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		metrics: metrics,
		logger:  logger.With("component", "server"),
	}
}

// Run supervises the hub, the TCP acceptor and the optional WebSocket
// acceptor until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(ctx) })
	g.Go(func() error { return s.listenTCP(ctx) })
	if s.cfg.WSPort != 0 {
		g.Go(func() error { return s.listenWS(ctx) })
	}

	return g.Wait()
}

func (s *Server) listenTCP(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	var listener net.Listener
	bind := func() error {
		var err error
		listener, err = net.Listen("tcp", addr)
		return err
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), bind); err != nil {
		return errors.WrapFatal(err, "server", "listenTCP", "bind listener")
	}
	if s.cfg.TLS != nil {
		listener = tls.NewListener(listener, s.cfg.TLS)
	}

	s.logger.Info("Listening", "addr", addr, "tls", s.cfg.TLS != nil)

	// Unblock Accept when the context ends.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "server", "listenTCP", "accept")
		}
		go s.serveConn(conn)
	}
}

// serveConn runs a connection's read loop; the paired write loop runs
// in its own goroutine. Both end when the hub closes the session.
func (s *Server) serveConn(conn net.Conn) {
	host, port := remoteHostPort(conn.RemoteAddr().String())
	sess := NewInteractor(s.nextID.Add(1), host, port, s.cfg.QueueCapacity, s.logger)
	sess.reader = wire.NewFrameReaderSize(s.cfg.MaxFrameSize)
	s.hub.Connect(sess)

	go s.writeLoop(conn, sess)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, recvErr := sess.Receive(buf[:n])
			for _, msg := range msgs {
				s.hub.Deliver(sess, msg)
			}
			if recvErr != nil {
				if s.metrics != nil {
					s.metrics.FrameErrors.Inc()
				}
				s.logger.Info("Session wire error", "client", sess.ClientID(), "error", recvErr)
				s.hub.Disconnect(sess, recvErr)
				return
			}
		}
		if err != nil {
			s.hub.Disconnect(sess, errors.Wrap(errors.ErrTransport, "server", "serveConn", err.Error()))
			return
		}
	}
}

// writeLoop drains the session's outbound queue onto the socket and
// closes the socket once the queue is closed and flushed. Closing the
// socket also unblocks the read loop.
func (s *Server) writeLoop(conn net.Conn, sess *Interactor) {
	out := sess.Outbound()
	defer conn.Close()

	for {
		for {
			frames := out.ReadBatch(64)
			if frames == nil {
				break
			}
			for _, frame := range frames {
				if _, err := conn.Write(frame); err != nil {
					s.hub.Disconnect(sess, errors.Wrap(errors.ErrTransport, "server", "writeLoop", err.Error()))
					return
				}
			}
		}
		if out.Closed() && out.Len() == 0 {
			return
		}
		<-out.Wait()
	}
}

// remoteHostPort splits "host:port", tolerating odd inputs from
// non-TCP transports.
func remoteHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

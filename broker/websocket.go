package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/wire"
)

// The WebSocket transport carries one message per binary WS frame:
// [kind][body] with no length prefix, the WS framing supplying the
// message boundary.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: readBufferSize,
	// The wire protocol authenticates; browser origins are not a trust
	// boundary for a binary feed.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) listenWS(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.WSPort),
		Handler:           mux,
		TLSConfig:         s.cfg.TLS,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS != nil {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	s.logger.Info("Listening for web sockets", "port", s.cfg.WSPort, "tls", s.cfg.TLS != nil)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapFatal(err, "server", "listenWS", "serve")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	host, port := remoteHostPort(r.RemoteAddr)
	sess := NewInteractor(s.nextID.Add(1), host, port, s.cfg.QueueCapacity, s.logger)
	s.hub.Connect(sess)

	go s.writeLoopWS(conn, sess)
	s.readLoopWS(conn, sess)
}

func (s *Server) readLoopWS(conn *websocket.Conn, sess *Interactor) {
	conn.SetReadLimit(int64(s.cfg.MaxFrameSize))
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			s.hub.Disconnect(sess, errors.Wrap(errors.ErrTransport, "server", "readLoopWS", err.Error()))
			return
		}
		if kind != websocket.BinaryMessage {
			s.hub.Disconnect(sess, errors.Wrap(errors.ErrProtocolViolation,
				"server", "readLoopWS", "non-binary websocket message"))
			return
		}
		msg, err := wire.DecodeBytes(payload)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FrameErrors.Inc()
			}
			s.hub.Disconnect(sess, err)
			return
		}
		s.hub.Deliver(sess, msg)
	}
}

func (s *Server) writeLoopWS(conn *websocket.Conn, sess *Interactor) {
	out := sess.Outbound()
	defer conn.Close()

	for {
		for {
			frames := out.ReadBatch(64)
			if frames == nil {
				break
			}
			for _, frame := range frames {
				// The queue stores full wire frames; WS framing replaces
				// the 4-byte length prefix.
				if err := conn.WriteMessage(websocket.BinaryMessage, frame[4:]); err != nil {
					s.hub.Disconnect(sess, errors.Wrap(errors.ErrTransport, "server", "writeLoopWS", err.Error()))
					return
				}
			}
		}
		if out.Closed() && out.Len() == 0 {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
		<-out.Wait()
	}
}

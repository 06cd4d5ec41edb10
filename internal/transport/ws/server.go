package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelmarch.ai/internal/protocol"
	"voxelmarch.ai/internal/sim/encoding"
	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/sim/script"
	"voxelmarch.ai/internal/sim/tuning"
)

const handshakeTimeout = 5 * time.Second

type Server struct {
	scene *scene.Scene
	tune  tuning.Tuning
	log   *log.Logger

	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// frame is one outgoing websocket message.
type frame struct {
	kind int
	data []byte
}

func NewServer(sc *scene.Scene, tune tuning.Tuning, logger *log.Logger) *Server {
	return &Server{
		scene: sc,
		tune:  tune,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  tune.WS.ReadBufferBytes,
			WriteBufferSize: tune.WS.WriteBufferBytes,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Clients is the number of connections past the handshake.
func (s *Server) Clients() int64 { return s.clients.Load() }

func (s *Server) readTimeout() time.Duration {
	return time.Duration(s.tune.WS.ReadTimeoutMs) * time.Millisecond
}

func (s *Server) writeTimeout() time.Duration {
	return time.Duration(s.tune.WS.WriteTimeoutMs) * time.Millisecond
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(int64(s.tune.WS.MaxMessageBytes))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		clientID, hello, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		s.clients.Add(1)
		defer s.clients.Add(-1)
		s.log.Printf("client %s connected name=%q subscribe=%t", clientID, hello.ClientName, hello.Subscribe)

		out := make(chan frame, s.tune.WS.SendQueue)
		var updates chan scene.Update
		if hello.Subscribe {
			updates = make(chan scene.Update, 1)
			if err := s.scene.Subscribe(ctx, clientID, updates); err != nil {
				return
			}
			defer func() {
				uctx, ucancel := context.WithTimeout(context.Background(), time.Second)
				defer ucancel()
				_ = s.scene.Unsubscribe(uctx, clientID)
			}()
		}

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writeLoop(ctx, cancel, conn, out, updates)
		}()

		c := &client{srv: s, id: clientID, out: out}
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if kind != websocket.TextMessage {
				c.sendError(ctx, "", protocol.ErrProtoBadRequest, "binary frames are server-to-client only")
				continue
			}
			if err := c.dispatch(ctx, msg); err != nil {
				break
			}
		}
		cancel()
		<-writerDone
		s.log.Printf("client %s disconnected", clientID)
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan frame, updates <-chan scene.Update) {
	for {
		var f frame
		select {
		case <-ctx.Done():
			return
		case f = <-out:
		case u := <-updates:
			b, err := json.Marshal(protocol.UpdateMsg{
				Type:            protocol.TypeUpdate,
				ProtocolVersion: protocol.Version,
				Revision:        u.Revision,
				LogExtent:       u.LogExtent,
				Nodes:           u.Nodes,
			})
			if err != nil {
				continue
			}
			f = frame{kind: websocket.TextMessage, data: b}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
		if err := conn.WriteMessage(f.kind, f.data); err != nil {
			cancel()
			return
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (string, protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", hello, false
	}

	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", hello, false
	}

	st, err := s.scene.Stats(ctx)
	if err != nil {
		closeWith(conn, "scene unavailable")
		return "", hello, false
	}
	clientID := "c_" + uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        clientID,
		Revision:        s.scene.Revision(),
		LogExtent:       st.LogExtent,
		Limits: protocol.SceneLimits{
			MaxLogExtent:    s.tune.MaxLogExtent,
			MaxPaintVoxels:  s.tune.MaxPaintVoxels,
			MaxMessageBytes: int64(s.tune.WS.MaxMessageBytes),
		},
	}
	if err := s.writeJSON(conn, welcome); err != nil {
		return "", hello, false
	}
	return clientID, hello, true
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// client handles the requests of one connection. Replies go through out so
// that only the writer goroutine touches the connection.
type client struct {
	srv *Server
	id  string
	out chan<- frame
}

func (c *client) send(ctx context.Context, kind int, data []byte) error {
	select {
	case c.out <- frame{kind: kind, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) sendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(ctx, websocket.TextMessage, b)
}

func (c *client) sendError(ctx context.Context, id, code, message string) error {
	return c.sendJSON(ctx, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Code:            code,
		Message:         message,
	})
}

func (c *client) ack(ctx context.Context, id string, err error) error {
	m := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Accepted:        err == nil,
		Revision:        c.srv.scene.Revision(),
	}
	if err != nil {
		m.Code = codeFor(err)
		m.Message = err.Error()
	}
	return c.sendJSON(ctx, m)
}

// dispatch handles one text message. A returned error ends the connection;
// request-level failures are reported to the client instead.
func (c *client) dispatch(ctx context.Context, msg []byte) error {
	base, err := protocol.Validate(msg)
	if err != nil {
		return c.sendError(ctx, base.ID, protocol.ErrProtoBadRequest, err.Error())
	}
	if base.ProtocolVersion != protocol.Version {
		return c.sendError(ctx, base.ID, protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
	}
	sc := c.srv.scene

	switch base.Type {
	case protocol.TypePaint:
		var m protocol.PaintMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.sendError(ctx, base.ID, protocol.ErrProtoBadRequest, err.Error())
		}
		err := sc.Paint(ctx, scene.PaintOp{
			Offset: octree.Coord(m.Offset),
			Extent: octree.Coord(m.Extent),
			Value:  octree.Voxel(m.Value),
			Actor:  c.id,
		})
		return c.ack(ctx, m.ID, err)

	case protocol.TypeSample:
		var m protocol.SampleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.sendError(ctx, base.ID, protocol.ErrProtoBadRequest, err.Error())
		}
		r, err := sc.Sample(ctx, octree.Coord(m.Pos), m.MinLogExtent)
		if err != nil {
			return c.sendError(ctx, m.ID, codeFor(err), err.Error())
		}
		return c.sendJSON(ctx, protocol.SampleResultMsg{
			Type:            protocol.TypeSampleResult,
			ProtocolVersion: protocol.Version,
			ID:              m.ID,
			Value:           uint32(r.Value),
			Revision:        r.Revision,
		})

	case protocol.TypeVolume:
		var m protocol.VolumeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.sendError(ctx, base.ID, protocol.ErrProtoBadRequest, err.Error())
		}
		return c.ack(ctx, m.ID, c.replaceVolume(ctx, m.RLE))

	case protocol.TypeExport:
		ex, err := sc.Export(ctx)
		if err != nil {
			return c.sendError(ctx, base.ID, codeFor(err), err.Error())
		}
		payload := octree.EncodeGPUBytes(ex.Words)
		if err := c.sendJSON(ctx, protocol.ExportReadyMsg{
			Type:            protocol.TypeExportReady,
			ProtocolVersion: protocol.Version,
			ID:              base.ID,
			Revision:        ex.Revision,
			LogExtent:       ex.Stats.LogExtent,
			Nodes:           ex.Stats.Nodes,
			Bytes:           len(payload),
		}); err != nil {
			return err
		}
		return c.send(ctx, websocket.BinaryMessage, payload)

	default:
		return c.sendError(ctx, base.ID, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
}

func (c *client) replaceVolume(ctx context.Context, rle string) error {
	vals, err := encoding.DecodeRLE(rle, script.MaxVolumeVoxels)
	if err != nil {
		return errInvalidVolume{err}
	}
	t, err := script.FromValues(vals)
	if err != nil {
		return errInvalidVolume{err}
	}
	return c.srv.scene.Replace(ctx, t, c.id)
}

type errInvalidVolume struct{ err error }

func (e errInvalidVolume) Error() string { return "invalid volume: " + e.err.Error() }
func (e errInvalidVolume) Unwrap() error { return e.err }

func codeFor(err error) string {
	var iv errInvalidVolume
	switch {
	case errors.As(err, &iv):
		return protocol.ErrInvalidVolume
	case errors.Is(err, scene.ErrTooLarge):
		return protocol.ErrTooLarge
	case errors.Is(err, scene.ErrOutOfBounds):
		return protocol.ErrOutOfBounds
	case errors.Is(err, scene.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

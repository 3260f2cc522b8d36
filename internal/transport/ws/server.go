// Package ws answers read-API queries over websocket connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/protocol"
	"mcdskit.dev/internal/query"
)

type Options struct {
	MaxRows      int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Logger       *slog.Logger

	// OnQuery observes every answered message.
	OnQuery func(QueryEvent)
}

// QueryEvent describes one answered message. Code is empty on success.
type QueryEvent struct {
	RequestID string
	XMLFile   string
	What      string
	Code      string
	Rows      int
	Duration  time.Duration
}

type Server struct {
	src  query.Source
	opts Options
	log  *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(src query.Source, opts Options) *Server {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100_000
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Server{
		src:  src,
		opts: opts,
		log:  opts.Logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			b, err := json.Marshal(s.handle(ctx, msg))
			if err != nil {
				s.log.Error("encode reply", "err", err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
	}
}

// handle turns one inbound message into a RESULT or ERROR.
func (s *Server) handle(ctx context.Context, msg []byte) any {
	start := time.Now()
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return s.fail(QueryEvent{}, start, protocol.Errorf(protocol.ErrProtoBadRequest, "malformed json: %v", err))
	}
	if base.Type != protocol.TypeQuery {
		return s.fail(QueryEvent{RequestID: base.RequestID}, start, protocol.Errorf(protocol.ErrProtoBadRequest, "unexpected message type %q", base.Type))
	}
	var q protocol.QueryMsg
	if err := json.Unmarshal(msg, &q); err != nil {
		return s.fail(QueryEvent{RequestID: base.RequestID}, start, protocol.Errorf(protocol.ErrProtoBadRequest, "bad QUERY: %v", err))
	}
	ev := QueryEvent{RequestID: q.RequestID, XMLFile: q.XMLFile, What: q.What}
	if e := q.Validate(); e != nil {
		return s.fail(ev, start, e)
	}
	res, e := query.Answer(ctx, s.src, q, s.opts.MaxRows)
	if e != nil {
		return s.fail(ev, start, e)
	}
	ev.Rows = len(res.Rows)
	s.observe(ev, start)
	s.log.Debug("query", "request_id", q.RequestID, "xmlfile", q.XMLFile, "what", q.What, "rows", len(res.Rows))
	return res
}

func (s *Server) fail(ev QueryEvent, start time.Time, e *protocol.Error) protocol.ErrorMsg {
	ev.Code = e.Code
	s.observe(ev, start)
	s.log.Info("query failed", "request_id", ev.RequestID, "code", e.Code, "message", e.Message)
	return protocol.NewError(ev.RequestID, e)
}

func (s *Server) observe(ev QueryEvent, start time.Time) {
	if s.opts.OnQuery != nil {
		ev.Duration = time.Since(start)
		s.opts.OnQuery(ev)
	}
}

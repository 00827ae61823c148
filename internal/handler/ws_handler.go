package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/i18n"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
	ws "github.com/stemsi/exstem-runner/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt: answer writes and navigation come in,
// countdown ticks and the graded result go out.
type WSHandler struct {
	sessions SessionRunner
	tick     time.Duration
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions SessionRunner, tick time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	if tick <= 0 {
		tick = time.Second
	}
	return &WSHandler{
		sessions: sessions,
		tick:     tick,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// stream is one connected attempt.
type stream struct {
	conn      *ws.Conn
	attemptID uuid.UUID
	log       zerolog.Logger
	graded    sync.Once
}

// finished sends the closing event of an attempt once, whichever of the
// read loop and the ticker sees it first, then closes the connection so
// the read loop returns.
func (s *stream) finished(state *model.SessionState) {
	switch state.Status {
	case model.SessionStatusCompleted:
		s.graded.Do(func() {
			_ = s.conn.WriteTyped(ws.GradedResponse{
				Event:   ws.EventGraded,
				Trigger: state.Trigger,
				Result:  state.Result,
			})
			_ = s.conn.Close()
		})
	case model.SessionStatusAbandoned:
		s.graded.Do(func() {
			_ = s.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Attempt: state})
			_ = s.conn.Close()
		})
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	// The stream outlives the HTTP request context once hijacked.
	ctx, cancel := context.WithCancel(i18n.WithLocalizer(context.Background(),
		i18n.NewLocalizer(c.GetHeader("Accept-Language"))))
	defer cancel()

	state, err := h.sessions.State(ctx, attemptID)
	if err != nil {
		failFor(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	s := &stream{
		conn:      ws.NewConn(raw),
		attemptID: attemptID,
		log:       h.log.With().Str("attempt_id", attemptID.String()).Logger(),
	}
	defer s.conn.Close()

	s.log.Info().Msg("Candidate connected")

	_ = s.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Attempt: state})
	if state.Status != model.SessionStatusInProgress {
		s.finished(state)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pushTicks(ctx, s)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		var msg ws.RequestPayload
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, s, &msg)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, s *stream, msg *ws.RequestPayload) {
	switch msg.Action {
	case ws.ActionPing:
		_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionSelect, ws.ActionClear:
		if msg.Index == nil || (msg.Action == ws.ActionSelect && msg.Option == nil) {
			h.writeError(ctx, s, response.ErrInvalidPayload)
			return
		}
		option := msg.Option
		if msg.Action == ws.ActionClear {
			option = nil
		}
		state, applied, err := h.sessions.SelectAnswer(ctx, s.attemptID, *msg.Index, option)
		if err != nil {
			h.fail(ctx, s, err)
			return
		}
		_ = s.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, Index: *msg.Index, Applied: applied})
		s.finished(state)

	case ws.ActionNavigate:
		if msg.Index == nil {
			h.writeError(ctx, s, response.ErrInvalidPayload)
			return
		}
		state, err := h.sessions.GoTo(ctx, s.attemptID, *msg.Index)
		if err != nil {
			h.fail(ctx, s, err)
			return
		}
		_ = s.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Attempt: state})
		s.finished(state)

	case ws.ActionSubmit:
		state, err := h.sessions.Submit(ctx, s.attemptID)
		if err != nil {
			h.fail(ctx, s, err)
			return
		}
		s.finished(state)

	default:
		s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		h.writeError(ctx, s, response.ErrUnknownAction)
	}
}

// pushTicks sends the remaining time every tick until the attempt ends or
// the connection goes away.
func (h *WSHandler) pushTicks(ctx context.Context, s *stream) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := h.sessions.State(ctx, s.attemptID)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Msg("Tick failed")
				}
				continue
			}
			if state.Status != model.SessionStatusInProgress {
				s.finished(state)
				return
			}
			if err := s.conn.WriteTyped(ws.TickResponse{
				Event:       ws.EventTick,
				Status:      state.Status,
				RemainingMs: state.RemainingMs,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) fail(ctx context.Context, s *stream, err error) {
	s.log.Error().Err(err).Msg("Stream action failed")
	h.writeError(ctx, s, response.ErrInternal)
}

func (h *WSHandler) writeError(ctx context.Context, s *stream, code response.ErrCode) {
	_ = s.conn.WriteError(string(code), response.GetMessage(ctx, code))
}

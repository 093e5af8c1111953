package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"trivia-round-service/internal/app"
)

// WSOptions tune the WebSocket endpoint.
type WSOptions struct {
	AllowedOrigins []string
	// MessageRate and MessageBurst bound inbound messages per connection.
	MessageRate  float64
	MessageBurst int
}

type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
	opts     WSOptions
}

func NewWSHandler(service *app.GameService, opts WSOptions) *WSHandler {
	if opts.MessageRate <= 0 {
		opts.MessageRate = 5
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 10
	}
	return &WSHandler{
		service: service,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Option     *int   `json:"option"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

// ServeWS upgrades HTTP requests to websockets and attaches them to the player's session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	playerID := r.URL.Query().Get("playerId")
	if gameID == "" || playerID == "" {
		http.Error(w, "missing gameId or playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().
		Str("conn_id", uuid.NewString()).
		Str("game_id", gameID).
		Str("player_id", playerID).
		Logger()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	session, updates, cancel, err := h.service.Subscribe(ctx, gameID, playerID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()
	logger.Info().Msg("player connected")
	defer logger.Info().Msg("player disconnected")

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					// session stopped; unblock the reader
					_ = conn.Close()
					return
				}
				select {
				case send <- updateMessage(update):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	limiter := rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "rate_limited", Message: "too many messages"}})
			continue
		}

		switch inbound.Type {
		case "join":
			if err := session.Join(ctx); err != nil {
				reply(errorMessage(err))
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" || payload.Option == nil {
				reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}})
				continue
			}
			if err := session.Answer(ctx, payload.QuestionID, *payload.Option); err != nil {
				logger.Debug().Err(err).Str("question_id", payload.QuestionID).Msg("answer rejected")
				reply(errorMessage(err))
			}
		case "retry":
			if err := session.Retry(ctx); err != nil {
				reply(errorMessage(err))
			}
		default:
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func updateMessage(u app.Update) outboundMessage[any] {
	switch u.Kind {
	case app.UpdateAnswerResult:
		return outboundMessage[any]{Type: string(u.Kind), Payload: u.AnswerResult}
	case app.UpdateResults:
		return outboundMessage[any]{Type: string(u.Kind), Payload: u.Results}
	default:
		return outboundMessage[any]{Type: string(app.UpdateState), Payload: u.State}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	match "github.com/0x5487/mocktrading"
	"github.com/0x5487/mocktrading/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the HTTP handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subs   map[string]bool
}

func (s *session) isSubscribed(stockCode string) bool {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return s.subs[stockCode]
}

func (s *session) subscribe(stockCode string) {
	s.subsMu.Lock()
	s.subs[stockCode] = true
	s.subsMu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sess := &session{
		id:   xid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if !s.hub.register(sess) {
		_ = conn.Close()
		return
	}

	go s.writePump(sess)
	go s.readPump(sess)
}

func (s *Server) readPump(sess *session) {
	defer func() {
		s.hub.unregister(sess)
		s.limiter.Remove(sess.id)
		_ = sess.conn.Close()
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", slog.String("session_id", sess.id), slog.Any("error", err))
			}
			return
		}

		resp := s.handleMessage(context.Background(), sess, message)
		b, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal response", slog.String("session_id", sess.id), slog.Any("error", err))
			continue
		}

		select {
		case sess.send <- b:
		default:
			s.logger.Warn("session send buffer full, dropping response", slog.String("session_id", sess.id))
		}
	}
}

// writePump is the only writer of the connection.
func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage runs one websocket request and returns its response.
func (s *Server) handleMessage(ctx context.Context, sess *session, message []byte) *protocol.Response {
	var cmd protocol.Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return s.errorResponse("", protocol.ErrCodeInvalidMessage, "malformed json")
	}

	if !s.limiter.Allow(sess.id) {
		retry := s.limiter.Limiter(sess.id).RetryAfter()
		return s.errorResponse(cmd.RequestID, protocol.ErrCodeRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded, retry after %s", retry))
	}

	switch cmd.Type {
	case protocol.CmdCreateOrder:
		var req protocol.CreateOrderCommand
		if err := decodePayload(&cmd, &req); err != nil {
			return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, err.Error())
		}
		order, err := s.newOrder(ctx, &req)
		if err != nil {
			return s.commandError(cmd.RequestID, err)
		}
		return s.submitCommand(ctx, &cmd, order, protocol.RespOrderCreated)

	case protocol.CmdQueryOrder:
		var req protocol.QueryOrderCommand
		if err := decodePayload(&cmd, &req); err != nil {
			return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, err.Error())
		}
		if err := s.validate.Struct(&req); err != nil {
			return s.commandError(cmd.RequestID, err)
		}
		order, ok := s.orders.GetOrder(req.OrderNumber)
		if !ok {
			return s.commandError(cmd.RequestID, fmt.Errorf("%w: order %d", match.ErrNotFound, req.OrderNumber))
		}
		return s.okResponse(cmd.RequestID, protocol.RespOrderQueried, order)

	case protocol.CmdCancelOrder:
		var req protocol.CancelOrderCommand
		if err := decodePayload(&cmd, &req); err != nil {
			return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, err.Error())
		}
		order, err := s.cancelOrder(&req)
		if err != nil {
			return s.commandError(cmd.RequestID, err)
		}
		return s.submitCommand(ctx, &cmd, order, protocol.RespOrderCancelled)

	case protocol.CmdModifyOrder:
		var req protocol.ModifyOrderCommand
		if err := decodePayload(&cmd, &req); err != nil {
			return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, err.Error())
		}
		order, err := s.modifyOrder(&req)
		if err != nil {
			return s.commandError(cmd.RequestID, err)
		}
		return s.submitCommand(ctx, &cmd, order, protocol.RespOrderModified)

	case protocol.CmdSubscribe:
		var req protocol.SubscribeCommand
		if err := decodePayload(&cmd, &req); err != nil {
			return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, err.Error())
		}
		if err := s.validate.Struct(&req); err != nil {
			return s.commandError(cmd.RequestID, err)
		}
		sess.subscribe(req.StockCode)
		s.logger.Debug("session subscribed", slog.String("session_id", sess.id), slog.String("stock_code", req.StockCode))
		return s.okResponse(cmd.RequestID, protocol.RespSubscribed, map[string]string{"stockCode": req.StockCode})

	default:
		s.logger.Warn("unknown websocket command", slog.String("session_id", sess.id), slog.String("type", string(cmd.Type)))
		return s.errorResponse(cmd.RequestID, protocol.ErrCodeInvalidMessage, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func decodePayload(cmd *protocol.Command, v any) error {
	if len(cmd.Payload) == 0 {
		return errors.New("payload is required")
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func (s *Server) submitCommand(ctx context.Context, cmd *protocol.Command, order *match.Order, typ protocol.ResponseType) *protocol.Response {
	if err := s.submitter.Submit(ctx, order); err != nil {
		s.logger.Error("failed to submit order",
			slog.Uint64("order_number", order.OrderNumber),
			slog.String("action", order.Action.String()),
			slog.Any("error", err))
		return s.commandError(cmd.RequestID, err)
	}
	return s.okResponse(cmd.RequestID, typ, match.MessageFromOrder(order))
}

// commandError maps an error to the closed set of websocket error codes.
func (s *Server) commandError(requestID string, err error) *protocol.Response {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return s.errorResponse(requestID, protocol.ErrCodeMissingField, fmt.Sprintf("%s is required", fe.Field()))
			}
		}
		return s.errorResponse(requestID, protocol.ErrCodeInvalidMessage, err.Error())
	case errors.Is(err, match.ErrInvalidParam):
		return s.errorResponse(requestID, protocol.ErrCodeInvalidMessage, err.Error())
	case errors.Is(err, match.ErrNotFound):
		return s.errorResponse(requestID, protocol.ErrCodeOrderNotFound, err.Error())
	default:
		return s.errorResponse(requestID, protocol.ErrCodeInternalError, err.Error())
	}
}

func (s *Server) okResponse(requestID string, typ protocol.ResponseType, data any) *protocol.Response {
	return &protocol.Response{
		Type:      typ,
		RequestID: requestID,
		Data:      data,
		Timestamp: s.now().UnixMilli(),
	}
}

func (s *Server) errorResponse(requestID string, code protocol.ErrorCode, message string) *protocol.Response {
	return &protocol.Response{
		Type:      protocol.RespError,
		RequestID: requestID,
		ErrorCode: code,
		Message:   message,
		Timestamp: s.now().UnixMilli(),
	}
}

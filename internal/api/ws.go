package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/notify"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 * 1024
)

// wsObserver is one websocket connection registered with the hub.
type wsObserver struct {
	conn  *websocket.Conn
	actor Actor
	send  chan []byte
	done  chan struct{}
}

func (o *wsObserver) Send(frame []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.send <- frame:
		return true
	default:
		return false
	}
}

type wsHandler struct {
	hub        *notify.Hub
	coord      *consultation.Coordinator
	logger     *zap.Logger
	sendBuffer int
	upgrader   websocket.Upgrader
}

func newWSHandler(hub *notify.Hub, coord *consultation.Coordinator, logger *zap.Logger, sendBuffer int) *wsHandler {
	return &wsHandler{
		hub:        hub,
		coord:      coord,
		logger:     logger.Named("ws"),
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
	}
}

// ServeWS upgrades the request and subscribes the connection to the caller's
// user channel. Schedule and call rooms are joined with client frames.
func (h *wsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	o := &wsObserver{
		conn:  conn,
		actor: actor,
		send:  make(chan []byte, h.sendBuffer),
		done:  make(chan struct{}),
	}
	h.hub.Subscribe(consultation.UserChannel(actor.ID), o)

	h.logger.Debug("observer connected", zap.String("actor_id", actor.ID.String()))

	go h.writePump(o)
	h.readPump(o)
}

func (h *wsHandler) readPump(o *wsObserver) {
	defer func() {
		h.hub.Disconnect(o)
		close(o.done)
		_ = o.conn.Close()
		h.logger.Debug("observer disconnected", zap.String("actor_id", o.actor.ID.String()))
	}()

	o.conn.SetReadLimit(wsMaxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(o, "error", map[string]string{"error": "invalid_frame"})
			continue
		}
		h.handleFrame(o, frame)
	}
}

func (h *wsHandler) handleFrame(o *wsObserver, frame ClientFrame) {
	id, err := uuid.Parse(frame.ID)
	if err != nil {
		h.reply(o, "error", map[string]string{"error": "invalid_id", "action": frame.Action})
		return
	}

	var channel string
	switch frame.Action {
	case ActionJoinSchedule, ActionLeaveSchedule:
		channel = consultation.ScheduleChannel(id)
	case ActionJoinCall, ActionLeaveCall:
		channel = consultation.CallChannel(id)
	default:
		h.reply(o, "error", map[string]string{"error": "unknown_action", "action": frame.Action})
		return
	}

	switch frame.Action {
	case ActionJoinCall:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := h.coord.CallSession(ctx, id, o.actor.ID); err != nil {
			h.reply(o, "error", map[string]string{"error": consultation.CodeOf(err), "action": frame.Action})
			return
		}
		fallthrough
	case ActionJoinSchedule:
		h.hub.Subscribe(channel, o)
		h.reply(o, "joined", map[string]string{"channel": channel})
	default:
		h.hub.Unsubscribe(channel, o)
		h.reply(o, "left", map[string]string{"channel": channel})
	}
}

// reply sends a control frame to this observer only.
func (h *wsHandler) reply(o *wsObserver, event string, payload any) {
	frame, err := notify.EncodeFrame("", event, payload, time.Now())
	if err != nil {
		return
	}
	o.Send(frame)
}

func (h *wsHandler) writePump(o *wsObserver) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()

	for {
		select {
		case <-o.done:
			_ = o.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(wsWriteWait))
			return
		case frame := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

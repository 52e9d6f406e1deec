package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/chatterbox-im/server/internal/presence"
	"github.com/chatterbox-im/server/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// chunked file uploads ride the same channel, so the read limit has
	// to accommodate a full chunk plus base64 and framing overhead
	maxMessageSize = 1 << 21
)

type Client struct {
	conn    *websocket.Conn
	gateway *Gateway
	log     *log.Logger
	user    types.User
	connId  string
	// chats the user belonged to at connect time; the hub joins the
	// connection to these groups on registration
	initialChats []int
	// pendingAction is set for unauthenticated monitor connections and
	// disables everything except the pending_cancelled push
	pendingAction string

	send        chan *ServerEvent
	stopOnce    sync.Once
	cleanupOnce sync.Once
	stop        chan struct{}
	connectedAt time.Time
}

func NewClient(user types.User, conn *websocket.Conn, gw *Gateway, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		gateway:     gw,
		log:         l,
		user:        user,
		connId:      shortid.MustGenerate(),
		send:        make(chan *ServerEvent, 256),
		stop:        make(chan struct{}),
		connectedAt: Now(),
	}
}

// NewPendingClient creates a session for an unauthenticated monitor
// connection watching a pending action id.
func NewPendingClient(actionId string, conn *websocket.Conn, gw *Gateway, l *log.Logger) *Client {
	c := NewClient(types.User{}, conn, gw, l)
	c.pendingAction = actionId
	return c
}

func (c *Client) ConnId() string {
	return c.connId
}

// Start registers the session with the hub, announces the user online
// and spins up the read and write pumps.
func (c *Client) Start(ctx context.Context) {
	if c.pendingAction != "" {
		c.gateway.pending.Set(ctx, c.pendingAction, c.connId)
		c.gateway.registerChan <- c
		go c.writePump()
		go c.readPumpPending()
		return
	}

	chats, err := c.gateway.db.ListUserChats(c.user.Id)
	if err != nil {
		// the session is still usable, the client just starts with no
		// chat groups until join_chat events arrive
		c.log.Printf("client %q: list chats: %v", c.connId, err)
	}

	chatList := make([]types.Chat, 0, len(chats))
	c.initialChats = make([]int, 0, len(chats))
	for _, chat := range chats {
		c.initialChats = append(c.initialChats, chat.Id)
		chatList = append(chatList, types.Chat{
			Id:         chat.Id,
			ExternalId: chat.ExternalId,
			Type:       chat.Type,
			Name:       chat.Name,
		})
	}

	c.gateway.registerChan <- c

	c.gateway.presence.Upsert(ctx, presence.Record{
		UserId:        c.user.Id,
		ConnId:        c.connId,
		Username:      c.user.Username,
		StatusMessage: c.user.StatusMessage,
		LastSeen:      Now(),
	})

	connected := newEvent()
	connected.Connected = &ConnectedPayload{User: c.user, Chats: chatList}
	c.queueEvent(connected)

	online := newEvent()
	online.UserOnline = &PresencePayload{UserId: c.user.Id, Username: c.user.Username}
	online.SkipClient = c
	c.gateway.BroadcastAll(online)

	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(errEvent(ReasonInvalidPayload))
			continue
		}

		c.dispatch(&ev)
	}
}

// readPumpPending drains control frames for a monitor connection; the
// side channel carries no inbound events.
func (c *Client) readPumpPending() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// dispatch routes one inbound event. Events on a single connection are
// handled in arrival order; each handler is self-contained and reports
// failures only to this connection.
func (c *Client) dispatch(ev *ClientEvent) {
	ctx := context.Background()

	switch {
	case ev.SendMessage != nil:
		c.handleSendMessage(ctx, ev.SendMessage)
	case ev.UpdateMessageStatus != nil:
		c.handleUpdateMessageStatus(ev.UpdateMessageStatus)
	case ev.DeleteMessageForAll != nil:
		c.handleDeleteForAll(ctx, ev.DeleteMessageForAll)
	case ev.DeleteMessageForUser != nil:
		c.handleDeleteForUser(ctx, ev.DeleteMessageForUser)
	case ev.TypingStart != nil:
		c.handleTyping(ev.TypingStart, true)
	case ev.TypingStop != nil:
		c.handleTyping(ev.TypingStop, false)
	case ev.JoinChat != nil:
		c.handleJoinChat(ev.JoinChat)
	case ev.LeaveChat != nil:
		c.handleLeaveChat(ev.LeaveChat)
	case ev.SendFileMessage != nil:
		c.handleSendFileMessage(ctx, ev.SendFileMessage)
	case ev.SendFileMessageChunk != nil:
		c.handleFileChunk(ctx, ev.SendFileMessageChunk)
	case ev.UpdateStatus != nil:
		c.handleUpdateStatus(ctx, ev.UpdateStatus)
	case ev.GetOnlineUsers != nil:
		c.handleGetOnlineUsers(ctx)
	default:
		c.queueEvent(errEvent(ReasonInvalidPayload))
	}
}

func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("client %q: send channel full, dropping event", c.connId)
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup tears the session down. It is idempotent and every step is
// independent: a failing durable write or broadcast never stops the
// remaining steps from running.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		ctx := context.Background()

		if c.pendingAction != "" {
			c.gateway.pending.Remove(ctx, c.pendingAction)
			c.gateway.deregisterChan <- c
			c.stopClient()
			return
		}

		// only the connection that owns the presence slot announces the
		// user offline; an older device disconnecting after a newer one
		// took the slot stays quiet
		ownsSlot := false
		if rec, ok := c.gateway.presence.Get(ctx, c.user.Id); ok && rec.ConnId == c.connId {
			ownsSlot = true
		}
		c.gateway.presence.Remove(ctx, c.user.Id, c.connId)

		if ownsSlot {
			offCtx, cancel := context.WithTimeout(ctx, c.gateway.offlineDeadline)
			if err := c.gateway.db.SetUserOffline(offCtx, c.user.Id); err != nil {
				c.log.Printf("client %q: offline write abandoned: %v", c.connId, err)
			}
			cancel()

			offline := newEvent()
			offline.UserOffline = &PresencePayload{UserId: c.user.Id, Username: c.user.Username}
			offline.SkipClient = c
			c.gateway.BroadcastAll(offline)
		}

		c.gateway.deregisterChan <- c
		c.stopClient()
	})
}

package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/notify"
	"github.com/chatterbox-im/server/internal/presence"
	"github.com/chatterbox-im/server/internal/stats"
	"github.com/chatterbox-im/server/internal/storage"
	"github.com/chatterbox-im/server/internal/types"
	"github.com/chatterbox-im/server/internal/upload"
)

const (
	metricNumConnections      = "NumConnections"
	metricNumChatGroups       = "NumChatGroups"
	metricMessagesSent        = "MessagesSent"
	metricUploadsCompleted    = "UploadsCompleted"
	metricNotificationsQueued = "NotificationsQueued"
)

type groupReq struct {
	client *Client
	// when client is nil, the request applies to every live connection
	// of userId (membership changes made through the REST layer)
	userId int
	chatId int
}

type broadcastReq struct {
	chatId int
	userId int
	connId string
	all    bool
	event  *ServerEvent
}

// Gateway is the realtime hub: it owns every live connection, the
// per-chat broadcast groups and the per-user personal groups, and
// routes broadcasts between them. All group state is owned by the Run
// loop; other goroutines talk to it through channels.
type Gateway struct {
	log       *log.Logger
	db        database.ChatRepository
	presence  presence.Store
	pending   *presence.PendingStore
	assembler *upload.Assembler
	blobs     storage.BlobStore
	notifier  notify.Publisher
	stats     stats.StatsProvider

	offlineDeadline time.Duration
	maxUploadSize   int64

	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	pendingClients map[string]*Client
	chatGroups     map[int]map[*Client]struct{}
	userGroups     map[int]map[*Client]struct{}

	registerChan   chan *Client
	deregisterChan chan *Client
	joinChan       chan *groupReq
	leaveChan      chan *groupReq
	broadcastChan  chan *broadcastReq
	stop           chan struct{}
	done           chan struct{}
}

type Config struct {
	Log             *log.Logger
	DB              database.ChatRepository
	Presence        presence.Store
	Pending         *presence.PendingStore
	Assembler       *upload.Assembler
	Blobs           storage.BlobStore
	Notifier        notify.Publisher
	Stats           stats.StatsProvider
	OfflineDeadline time.Duration
	MaxUploadSize   int64
}

func NewGateway(cfg Config) *Gateway {
	gw := &Gateway{
		log:             cfg.Log,
		db:              cfg.DB,
		presence:        cfg.Presence,
		pending:         cfg.Pending,
		assembler:       cfg.Assembler,
		blobs:           cfg.Blobs,
		notifier:        cfg.Notifier,
		stats:           cfg.Stats,
		offlineDeadline: cfg.OfflineDeadline,
		maxUploadSize:   cfg.MaxUploadSize,
		clients:         make(map[*Client]struct{}),
		pendingClients:  make(map[string]*Client),
		chatGroups:      make(map[int]map[*Client]struct{}),
		userGroups:      make(map[int]map[*Client]struct{}),
		registerChan:    make(chan *Client, 64),
		deregisterChan:  make(chan *Client, 64),
		joinChan:        make(chan *groupReq, 256),
		leaveChan:       make(chan *groupReq, 256),
		broadcastChan:   make(chan *broadcastReq, 1024),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	for _, name := range []string{
		metricNumConnections,
		metricNumChatGroups,
		metricMessagesSent,
		metricUploadsCompleted,
		metricNotificationsQueued,
	} {
		gw.stats.RegisterMetric(name)
	}

	return gw
}

func (gw *Gateway) Run() {
	for {
		select {
		case client := <-gw.registerChan:
			gw.addClient(client)
		case client := <-gw.deregisterChan:
			gw.removeClient(client)
		case req := <-gw.joinChan:
			gw.handleJoin(req)
		case req := <-gw.leaveChan:
			gw.handleLeave(req)
		case req := <-gw.broadcastChan:
			gw.deliver(req)
		case <-gw.stop:
			gw.log.Println("gateway: shutting down")
			close(gw.done)
			return
		}
	}
}

func (gw *Gateway) addClient(c *Client) {
	gw.clientsLock.Lock()
	gw.clients[c] = struct{}{}
	gw.clientsLock.Unlock()
	gw.stats.Incr(metricNumConnections)

	if c.pendingAction != "" {
		gw.pendingClients[c.connId] = c
		return
	}

	gw.log.Printf("gateway: adding connection %q for user %q", c.connId, c.user.Username)

	if gw.userGroups[c.user.Id] == nil {
		gw.userGroups[c.user.Id] = make(map[*Client]struct{})
	}
	gw.userGroups[c.user.Id][c] = struct{}{}

	for _, chatId := range c.initialChats {
		gw.joinGroup(c, chatId)
	}
}

func (gw *Gateway) removeClient(c *Client) {
	gw.clientsLock.Lock()
	if _, ok := gw.clients[c]; !ok {
		// second pass of an already-cleaned-up connection
		gw.clientsLock.Unlock()
		return
	}
	delete(gw.clients, c)
	gw.clientsLock.Unlock()

	gw.log.Printf("gateway: removing connection %q", c.connId)
	delete(gw.pendingClients, c.connId)
	gw.stats.Decr(metricNumConnections)

	for chatId, group := range gw.chatGroups {
		if _, ok := group[c]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(gw.chatGroups, chatId)
				gw.stats.Decr(metricNumChatGroups)
			}
		}
	}

	if group, ok := gw.userGroups[c.user.Id]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(gw.userGroups, c.user.Id)
		}
	}
}

func (gw *Gateway) joinGroup(c *Client, chatId int) {
	if gw.chatGroups[chatId] == nil {
		gw.chatGroups[chatId] = make(map[*Client]struct{})
		gw.stats.Incr(metricNumChatGroups)
	}
	gw.chatGroups[chatId][c] = struct{}{}
}

func (gw *Gateway) leaveGroup(c *Client, chatId int) {
	group, ok := gw.chatGroups[chatId]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(gw.chatGroups, chatId)
		gw.stats.Decr(metricNumChatGroups)
	}
}

func (gw *Gateway) handleJoin(req *groupReq) {
	if req.client != nil {
		gw.joinGroup(req.client, req.chatId)
		return
	}
	for c := range gw.userGroups[req.userId] {
		gw.joinGroup(c, req.chatId)
	}
}

func (gw *Gateway) handleLeave(req *groupReq) {
	if req.client != nil {
		gw.leaveGroup(req.client, req.chatId)
		return
	}
	for c := range gw.userGroups[req.userId] {
		gw.leaveGroup(c, req.chatId)
	}
}

func (gw *Gateway) deliver(req *broadcastReq) {
	if req.connId != "" {
		if c, ok := gw.pendingClients[req.connId]; ok {
			c.queueEvent(req.event)
		}
		return
	}

	var targets map[*Client]struct{}
	switch {
	case req.all:
		targets = gw.clients
	case req.chatId != 0:
		targets = gw.chatGroups[req.chatId]
	default:
		targets = gw.userGroups[req.userId]
	}

	for c := range targets {
		if c == req.event.SkipClient || c.pendingAction != "" {
			continue
		}
		c.queueEvent(req.event)
	}
}

func (gw *Gateway) enqueue(req *broadcastReq) {
	select {
	case gw.broadcastChan <- req:
	default:
		gw.log.Println("gateway: broadcast channel full, dropping event")
	}
}

// BroadcastToChat fans an event out to every connection currently
// joined to the chat's broadcast group; offline devices simply miss it.
func (gw *Gateway) BroadcastToChat(chatId int, ev *ServerEvent) {
	gw.enqueue(&broadcastReq{chatId: chatId, event: ev})
}

// BroadcastToUser delivers to every live connection of one user (the
// personal notification group).
func (gw *Gateway) BroadcastToUser(userId int, ev *ServerEvent) {
	gw.enqueue(&broadcastReq{userId: userId, event: ev})
}

func (gw *Gateway) BroadcastAll(ev *ServerEvent) {
	gw.enqueue(&broadcastReq{all: true, event: ev})
}

// AnnounceMemberAdded is called by the REST layer when a user is added
// to a chat: the chat group learns about the member, the member's live
// connections join the group and get a personal notification.
func (gw *Gateway) AnnounceMemberAdded(chat types.Chat, member types.ChatMember) {
	select {
	case gw.joinChan <- &groupReq{userId: member.UserId, chatId: chat.Id}:
	default:
		gw.log.Println("gateway: join channel full")
	}

	ev := newEvent()
	ev.MemberAdded = &MemberChange{ChatId: chat.Id, Member: member}
	gw.BroadcastToChat(chat.Id, ev)

	personal := newEvent()
	personal.AddedToGroup = &ChatPayload{Chat: chat}
	gw.BroadcastToUser(member.UserId, personal)
}

// AnnounceMemberRemoved mirrors AnnounceMemberAdded for removals.
func (gw *Gateway) AnnounceMemberRemoved(chat types.Chat, member types.ChatMember) {
	ev := newEvent()
	ev.MemberRemoved = &MemberChange{ChatId: chat.Id, Member: member}
	gw.BroadcastToChat(chat.Id, ev)

	personal := newEvent()
	personal.RemovedFromGroup = &ChatPayload{Chat: chat}
	gw.BroadcastToUser(member.UserId, personal)

	select {
	case gw.leaveChan <- &groupReq{userId: member.UserId, chatId: chat.Id}:
	default:
		gw.log.Println("gateway: leave channel full")
	}
}

// CancelPending notifies an unauthenticated monitor connection that its
// pending action was cancelled server-side, then forgets the mapping.
func (gw *Gateway) CancelPending(ctx context.Context, actionId, reason string) {
	connId, ok := gw.pending.Get(ctx, actionId)
	if !ok {
		return
	}
	gw.pending.Remove(ctx, actionId)

	// unauthenticated monitors are not in any personal group, deliver
	// straight to the connection through the hub loop
	ev := newEvent()
	ev.PendingCancelled = &PendingCancelled{ActionId: actionId, Reason: reason}
	gw.enqueue(&broadcastReq{connId: connId, event: ev})
}

func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.clientsLock.Lock()
	for c := range gw.clients {
		c.stopClient()
	}
	gw.clientsLock.Unlock()

	close(gw.stop)

	select {
	case <-gw.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/gateway"
	"github.com/chatterbox-im/server/internal/types"
)

const defaultMessagePage = 50

type CreateChatRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	MemberIds []int  `json:"member_ids"`
}

type MemberRequest struct {
	ChatId int `json:"chat_id"`
	UserId int `json:"user_id"`
}

type BlockRequest struct {
	UserId int `json:"user_id"`
}

type CancelPendingRequest struct {
	ActionId string `json:"action_id"`
	Reason   string `json:"reason"`
}

func (s *ChatterboxApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatterboxApp) createChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberIds := req.MemberIds
	if !slices.Contains(memberIds, userId) {
		memberIds = append(memberIds, userId)
	}

	switch req.Type {
	case types.ChatTypePrivate:
		if len(memberIds) != 2 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		// a block in either direction prevents opening the conversation
		for _, id := range memberIds {
			if id == userId {
				continue
			}
			blocked, err := s.db.IsBlocked(userId, id)
			if err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			if blocked {
				errResp := NewForbiddenError()
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}
	case types.ChatTypeGroup:
		if req.Name == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		s.log.Print("generate chat id:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newChat, err := s.db.CreateChat(database.CreateChatParams{
		ExternalId: sid,
		Type:       req.Type,
		Name:       req.Name,
		CreatorId:  userId,
		MemberIds:  memberIds,
	})
	if err != nil {
		s.log.Println("create chat:", err)
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiChat(newChat))
}

func (s *ChatterboxApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChats, err := s.db.ListUserChats(userId)
	if err != nil {
		s.log.Println("list chats:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats := make([]types.Chat, 0, len(dbChats))
	for _, c := range dbChats {
		chats = append(chats, toApiChat(c))
	}

	s.writeJson(w, http.StatusOK, chats)
}

func (s *ChatterboxApp) addMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChat(req.ChatId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// private chats have a fixed pair of members
	if chat.Type != types.ChatTypeGroup {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.IsChatAdmin(userId, chat.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(req.UserId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddChatMember(chat.Id, account.Id, types.RoleMember); err != nil {
		s.log.Println("add chat member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member := types.ChatMember{UserId: account.Id, Username: account.Username, Role: types.RoleMember}
	s.gw.AnnounceMemberAdded(toApiChat(chat), member)

	s.writeJson(w, http.StatusCreated, member)
}

func (s *ChatterboxApp) removeMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChat(req.ChatId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if chat.Type != types.ChatTypeGroup {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// members may leave on their own, removing anyone else takes admin
	if req.UserId != userId && !s.db.IsChatAdmin(userId, chat.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(req.UserId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.RemoveChatMember(chat.Id, account.Id); err != nil {
		s.log.Println("remove chat member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member := types.ChatMember{UserId: account.Id, Username: account.Username}
	s.gw.AnnounceMemberRemoved(toApiChat(chat), member)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatterboxApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chatId, err := strconv.Atoi(r.URL.Query().Get("chat_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.IsChatMember(userId, chatId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before, limit int
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}

	dbMessages, err := s.db.GetMessages(chatId, userId, before, limit)
	if err != nil {
		s.log.Println("get messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.Message{
			Id:        msg.Id,
			ChatId:    msg.ChatId,
			SenderId:  msg.SenderId,
			Content:   msg.Content,
			Type:      msg.Type,
			ReplyToId: msg.ReplyToId,
			CreatedAt: msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatterboxApp) createBlock(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 || req.UserId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.CreateBlock(userId, req.UserId); err != nil {
		s.log.Println("create block:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, nil)
}

func (s *ChatterboxApp) deleteBlock(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteBlock(userId, req.UserId); err != nil {
		s.log.Println("delete block:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatterboxApp) cancelPending(w http.ResponseWriter, r *http.Request) {
	var req CancelPendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.gw.CancelPending(r.Context(), req.ActionId, req.Reason)
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatterboxApp) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin) || slices.Contains(s.allowedOrigins, "*")
		},
	}
}

func (s *ChatterboxApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := gateway.NewClient(types.User{
		Id:            user.Id,
		Username:      user.Username,
		EmailAddress:  user.EmailAddress,
		StatusMessage: user.StatusMessage,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}, conn, s.gw, s.log)

	client.Start(r.Context())
}

// serveWsPending accepts an unauthenticated monitor connection for a
// pending action (a registration or login waiting on confirmation).
// The socket only ever receives a cancellation push.
func (s *ChatterboxApp) serveWsPending(w http.ResponseWriter, r *http.Request) {
	actionId := r.URL.Query().Get("action_id")
	if actionId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := gateway.NewPendingClient(actionId, conn, s.gw, s.log)
	client.Start(r.Context())
}

func toApiChat(c database.Chat) types.Chat {
	chat := types.Chat{
		Id:         c.Id,
		ExternalId: c.ExternalId,
		Type:       c.Type,
		Name:       c.Name,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	for _, m := range c.Members {
		chat.Members = append(chat.Members, types.ChatMember{
			UserId:   m.AccountId,
			Username: m.Username,
			Role:     m.Role,
		})
	}

	return chat
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatterbox-im/server/internal/config"
	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/gateway"
	"github.com/chatterbox-im/server/internal/notify"
	"github.com/chatterbox-im/server/internal/presence"
	"github.com/chatterbox-im/server/internal/stats"
	"github.com/chatterbox-im/server/internal/testutil"
	"github.com/chatterbox-im/server/internal/types"
	"github.com/chatterbox-im/server/internal/upload"
)

func newTestApp(t *testing.T, mockRepo *database.MockChatRepository) *ChatterboxApp {
	t.Helper()

	st := &stats.MockStatsUpdater{}
	st.On("RegisterMetric", mock.Anything).Return()
	st.On("Incr", mock.Anything).Maybe().Return()
	st.On("Decr", mock.Anything).Maybe().Return()

	pres := presence.NewMemoryStore(time.Minute)
	t.Cleanup(pres.Close)

	asm := upload.NewAssembler(testutil.TestLogger(t), 1<<20, time.Minute)
	t.Cleanup(asm.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})

	gw := gateway.NewGateway(gateway.Config{
		Log:             testutil.TestLogger(t),
		DB:              mockRepo,
		Presence:        pres,
		Pending:         presence.NewPendingStore(rdb, testutil.TestLogger(t), time.Minute),
		Assembler:       asm,
		Notifier:        notify.NoopPublisher{},
		Stats:           st,
		OfflineDeadline: time.Second,
		MaxUploadSize:   1 << 20,
	})

	return NewChatterboxApp(http.NewServeMux(), testutil.TestLogger(t), gw, mockRepo, &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"*"},
	})
}

func authedRequest(t *testing.T, app *ChatterboxApp, method, target string, body any, userId int) *http.Request {
	t.Helper()

	buf := &bytes.Buffer{}
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, buf)
	return req.WithContext(WithUserId(req.Context(), userId))
}

func TestHealthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{name: "healthy", mockErr: nil},
		{name: "database down", mockErr: errors.New("db error")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo)

			rr := httptest.NewRecorder()
			app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code)
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Equal(t, "OK", rr.Body.String())
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestCreateChat(t *testing.T) {
	tcases := []struct {
		name         string
		body         CreateChatRequest
		setup        func(m *database.MockChatRepository)
		expectedCode int
	}{
		{
			name: "private chat",
			body: CreateChatRequest{Type: types.ChatTypePrivate, MemberIds: []int{2}},
			setup: func(m *database.MockChatRepository) {
				m.On("IsBlocked", 1, 2).Return(false, nil)
				m.On("CreateChat", mock.MatchedBy(func(p database.CreateChatParams) bool {
					return p.Type == types.ChatTypePrivate && p.CreatorId == 1 && len(p.MemberIds) == 2
				})).Return(database.Chat{Id: 5, ExternalId: "abc123", Type: types.ChatTypePrivate}, nil)
			},
			expectedCode: http.StatusCreated,
		},
		{
			name: "private chat refused when blocked",
			body: CreateChatRequest{Type: types.ChatTypePrivate, MemberIds: []int{2}},
			setup: func(m *database.MockChatRepository) {
				m.On("IsBlocked", 1, 2).Return(true, nil)
			},
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "private chat needs exactly one peer",
			body:         CreateChatRequest{Type: types.ChatTypePrivate, MemberIds: []int{2, 3}},
			setup:        func(m *database.MockChatRepository) {},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "group chat needs a name",
			body:         CreateChatRequest{Type: types.ChatTypeGroup},
			setup:        func(m *database.MockChatRepository) {},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "group chat",
			body: CreateChatRequest{Type: types.ChatTypeGroup, Name: "gophers", MemberIds: []int{1, 2, 3}},
			setup: func(m *database.MockChatRepository) {
				m.On("CreateChat", mock.MatchedBy(func(p database.CreateChatParams) bool {
					return p.Type == types.ChatTypeGroup && p.Name == "gophers" && len(p.MemberIds) == 3
				})).Return(database.Chat{Id: 6, ExternalId: "def456", Type: types.ChatTypeGroup, Name: "gophers"}, nil)
			},
			expectedCode: http.StatusCreated,
		},
		{
			name:         "unknown chat type",
			body:         CreateChatRequest{Type: "broadcast"},
			setup:        func(m *database.MockChatRepository) {},
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			tc.setup(mockRepo)
			app := newTestApp(t, mockRepo)

			rr := httptest.NewRecorder()
			app.createChat(rr, authedRequest(t, app, http.MethodPost, "/api/chats", tc.body, 1))

			assert.Equal(t, tc.expectedCode, rr.Code)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("GetChat", 5).Return(database.Chat{Id: 5, Type: types.ChatTypeGroup, Name: "gophers"}, nil)
	mockRepo.On("IsChatAdmin", 1, 5).Return(false)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.addMember(rr, authedRequest(t, app, http.MethodPost, "/api/chats/members", MemberRequest{ChatId: 5, UserId: 9}, 1))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	mockRepo.AssertNotCalled(t, "AddChatMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddMemberToGroup(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("GetChat", 5).Return(database.Chat{Id: 5, Type: types.ChatTypeGroup, Name: "gophers"}, nil)
	mockRepo.On("IsChatAdmin", 1, 5).Return(true)
	mockRepo.On("GetAccountById", 9).Return(database.User{Id: 9, Username: "maria"}, nil)
	mockRepo.On("AddChatMember", 5, 9, types.RoleMember).Return(nil)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.addMember(rr, authedRequest(t, app, http.MethodPost, "/api/chats/members", MemberRequest{ChatId: 5, UserId: 9}, 1))

	assert.Equal(t, http.StatusCreated, rr.Code)

	var member types.ChatMember
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&member))
	assert.Equal(t, 9, member.UserId)
	assert.Equal(t, types.RoleMember, member.Role)
	mockRepo.AssertExpectations(t)
}

func TestAddMemberRejectedForPrivateChat(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("GetChat", 5).Return(database.Chat{Id: 5, Type: types.ChatTypePrivate}, nil)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.addMember(rr, authedRequest(t, app, http.MethodPost, "/api/chats/members", MemberRequest{ChatId: 5, UserId: 9}, 1))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockRepo.AssertNotCalled(t, "AddChatMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveMemberSelfLeave(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("GetChat", 5).Return(database.Chat{Id: 5, Type: types.ChatTypeGroup, Name: "gophers"}, nil)
	mockRepo.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "maria"}, nil)
	mockRepo.On("RemoveChatMember", 5, 2).Return(nil)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.removeMember(rr, authedRequest(t, app, http.MethodDelete, "/api/chats/members", MemberRequest{ChatId: 5, UserId: 2}, 2))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	// self removal never consults the admin check
	mockRepo.AssertNotCalled(t, "IsChatAdmin", mock.Anything, mock.Anything)
}

func TestGetMessagesGuardsMembership(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("IsChatMember", 1, 5).Return(false)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.getMessages(rr, authedRequest(t, app, http.MethodGet, "/api/messages?chat_id=5", nil, 1))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	mockRepo.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMessages(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("IsChatMember", 1, 5).Return(true)
	mockRepo.On("GetMessages", 5, 1, 0, defaultMessagePage).Return([]database.Message{
		{Id: 2, ChatId: 5, SenderId: 1, Content: "later", Type: types.MessageTypeText},
		{Id: 1, ChatId: 5, SenderId: 2, Content: "earlier", Type: types.MessageTypeText},
	}, nil)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.getMessages(rr, authedRequest(t, app, http.MethodGet, "/api/messages?chat_id=5", nil, 1))

	assert.Equal(t, http.StatusOK, rr.Code)

	var messages []types.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "later", messages[0].Content)
}

func TestCreateBlockRejectsSelf(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.createBlock(rr, authedRequest(t, app, http.MethodPost, "/api/blocks", BlockRequest{UserId: 1}, 1))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockRepo.AssertNotCalled(t, "CreateBlock", mock.Anything, mock.Anything)
}

func TestCreateBlock(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("CreateBlock", 1, 2).Return(nil)
	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.createBlock(rr, authedRequest(t, app, http.MethodPost, "/api/blocks", BlockRequest{UserId: 2}, 1))

	assert.Equal(t, http.StatusCreated, rr.Code)
	mockRepo.AssertExpectations(t)
}

func TestCancelPendingRequiresActionId(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	rr := httptest.NewRecorder()
	app.cancelPending(rr, authedRequest(t, app, http.MethodPost, "/api/pending/cancel", CancelPendingRequest{}, 1))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/types"
)

func TestJwtRoundTrip(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	token, err := app.createJwtForSession(42, time.Minute)
	require.NoError(t, err)

	userId, err := app.extractUserIdFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, userId)
}

func TestExpiredTokenRejected(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	token, err := app.createJwtForSession(42, -time.Minute)
	require.NoError(t, err)

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err)
}

func TestTokenSignedWithOtherKeyRejected(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})
	other := newTestApp(t, &database.MockChatRepository{})
	other.signingKey = []byte("a different key")

	token, err := other.createJwtForSession(42, time.Minute)
	require.NoError(t, err)

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err)
}

func TestExtractTokenPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
	req.Header.Set("Authorization", "Bearer from-header")

	token, ok := extractToken(req)
	require.True(t, ok)
	assert.Equal(t, "from-header", token)

	req.Header.Del("Authorization")
	token, ok = extractToken(req)
	require.True(t, ok)
	assert.Equal(t, "from-cookie", token)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	token, ok = extractToken(req)
	require.True(t, ok)
	assert.Equal(t, "from-query", token)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, ok = extractToken(req)
	assert.False(t, ok)
}

func TestAuthMiddleware(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	var gotUserId int
	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid cookie", func(t *testing.T) {
		token, err := app.createJwtForSession(7, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(createJwtCookie(token, time.Minute))

		rr := httptest.NewRecorder()
		handler(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 7, gotUserId)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-jwt"})

		rr := httptest.NewRecorder()
		handler(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestLogin(t *testing.T) {
	pwdHash, err := hashPassword("correct horse")
	require.NoError(t, err)

	tcases := []struct {
		name         string
		body         LoginRequest
		mockUser     database.User
		mockErr      error
		expectedCode int
	}{
		{
			name:         "successful login",
			body:         LoginRequest{Email: "nathan@example.com", Password: "correct horse"},
			mockUser:     database.User{Id: 1, Username: "nathan", EmailAddress: "nathan@example.com", PasswordHash: pwdHash},
			expectedCode: http.StatusOK,
		},
		{
			name:         "wrong password",
			body:         LoginRequest{Email: "nathan@example.com", Password: "battery staple"},
			mockUser:     database.User{Id: 1, EmailAddress: "nathan@example.com", PasswordHash: pwdHash},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "unknown email",
			body:         LoginRequest{Email: "ghost@example.com", Password: "whatever"},
			mockErr:      sql.ErrNoRows,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "missing fields",
			body:         LoginRequest{},
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			if tc.body.Email != "" {
				mockRepo.On("GetAccountByEmail", tc.body.Email).Return(tc.mockUser, tc.mockErr)
			}
			app := newTestApp(t, mockRepo)

			buf := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buf).Encode(tc.body))

			rr := httptest.NewRecorder()
			app.login(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", buf))

			assert.Equal(t, tc.expectedCode, rr.Code)

			if tc.expectedCode == http.StatusOK {
				var resp struct {
					Token string     `json:"token"`
					User  types.User `json:"user"`
				}
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.NotEmpty(t, resp.Token)
				assert.Equal(t, tc.mockUser.Id, resp.User.Id)

				userId, err := app.extractUserIdFromToken(resp.Token)
				require.NoError(t, err)
				assert.Equal(t, tc.mockUser.Id, userId)
			}
		})
	}
}

func TestCreateAccount(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
		return p.Username == "nathan" && p.EmailAddress == "nathan@example.com" &&
			verifyPassword(p.PasswordHash, "hunter2hunter2")
	})).Return(database.User{Id: 1, Username: "nathan", EmailAddress: "nathan@example.com"}, nil)
	app := newTestApp(t, mockRepo)

	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(RegisterRequest{
		Email:    "nathan@example.com",
		Username: "nathan",
		Password: "hunter2hunter2",
	}))

	rr := httptest.NewRecorder()
	app.createAccount(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", buf))

	assert.Equal(t, http.StatusCreated, rr.Code)

	var u types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
	assert.Equal(t, "nathan", u.Username)
	mockRepo.AssertExpectations(t)
}

func TestCreateAccountMissingFields(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	app := newTestApp(t, mockRepo)

	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(RegisterRequest{Email: "x@example.com"}))

	rr := httptest.NewRecorder()
	app.createAccount(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", buf))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockRepo.AssertNotCalled(t, "CreateAccount", mock.Anything)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/router-for-me/PromptLedger/internal/cache"
	"github.com/router-for-me/PromptLedger/internal/completion"
	"github.com/router-for-me/PromptLedger/internal/db"
	"github.com/router-for-me/PromptLedger/internal/ledger"
	"github.com/router-for-me/PromptLedger/internal/metrics"
	"github.com/router-for-me/PromptLedger/internal/security"
	"github.com/router-for-me/PromptLedger/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret"

type fakeCompleter struct {
	mu         sync.Mutex
	calls      int
	text       string
	err        error
	lastModel  string
	lastPrompt string
	lastParams map[string]any
}

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string, parameters map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastModel = model
	f.lastPrompt = prompt
	f.lastParams = parameters
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	engine    *gin.Engine
	ledger    *ledger.Ledger
	directory *users.Directory
	completer *fakeCompleter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() { _ = db.Close(conn) })

	tokens, err := security.NewTokenService([]byte(testSecret), 0, nil)
	require.NoError(t, err)
	probe, err := cache.NewProbe("")
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	env := &testEnv{
		ledger:    ledger.New(conn),
		directory: users.NewDirectory(conn),
		completer: &fakeCompleter{text: "Hi there"},
	}
	env.engine = NewEngine(Dependencies{
		DB:        conn,
		Tokens:    tokens,
		Directory: env.directory,
		Ledger:    env.ledger,
		Completer: env.completer,
		Cache:     probe,
		Metrics:   m,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, username, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/users/register", "", gin.H{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/users/login", "", gin.H{"username": username, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func (e *testEnv) signUp(t *testing.T, username string) (uint64, string) {
	t.Helper()
	w := e.register(t, username, username+"@x.com", "password123")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user, err := e.directory.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user.ID, e.login(t, username, "password123")
}

type errorBody struct {
	Error   string `json:"error"`
	Details []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Welcome to the OpenAI Request Wrapper Service!"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	processTime, errParse := strconv.ParseFloat(w.Header().Get("X-Process-Time"), 64)
	require.NoError(t, errParse)
	assert.GreaterOrEqual(t, processTime, 0.0)

	w = env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK","database":"OK","cache":"disabled"}`, w.Body.String())
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))
}

func TestRegister_ConflictOnDuplicateIdentity(t *testing.T) {
	env := newTestEnv(t)

	w := env.register(t, "alice", "alice@x.com", "password123")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Message  string `json:"message"`
		ID       uint64 `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "User registered successfully!", created.Message)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "alice", created.Username)
	assert.NotContains(t, w.Body.String(), "password")

	w = env.register(t, "alice", "other@x.com", "password123")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Username or email already exists.", decodeError(t, w).Error)

	w = env.register(t, "alice2", "alice@x.com", "password123")
	require.Equal(t, http.StatusBadRequest, w.Code)

	user, err := env.directory.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotEqual(t, "password123", user.HashedPassword)
	assert.True(t, security.CheckPassword(user.HashedPassword, "password123"))
}

func TestRegister_ValidationFailures(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{name: "short username", body: gin.H{"username": "al", "email": "al@x.com", "password": "password123"}, field: "username"},
		{name: "long username", body: gin.H{"username": strings.Repeat("a", 21), "email": "a@x.com", "password": "password123"}, field: "username"},
		{name: "email without at", body: gin.H{"username": "alice", "email": "alice.x.com", "password": "password123"}, field: "email"},
		{name: "email without dot", body: gin.H{"username": "alice", "email": "alice@xcom", "password": "password123"}, field: "email"},
		{name: "short password", body: gin.H{"username": "alice", "email": "alice@x.com", "password": "short"}, field: "password"},
		{name: "missing password", body: gin.H{"username": "alice", "email": "alice@x.com"}, field: "password"},
		{name: "padded short username", body: gin.H{"username": "   a   ", "email": "pad@x.com", "password": "password123"}, field: "username"},
		{name: "password over 72 bytes", body: gin.H{"username": "alice", "email": "alice@x.com", "password": strings.Repeat("p", 80)}, field: "password"},
		{name: "multibyte password over 72 bytes", body: gin.H{"username": "alice", "email": "alice@x.com", "password": strings.Repeat("é", 37)}, field: "password"},
		{name: "malformed json", body: `{"username":`, field: "body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/users/register", "", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			out := decodeError(t, w)
			assert.Equal(t, "validation failed", out.Error)
			require.NotEmpty(t, out.Details)
			assert.Equal(t, tc.field, out.Details[0].Field)
		})
	}

	user, err := env.directory.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRegister_TrimsIdentityBeforeValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.register(t, "  carol  ", " carol@x.com ", "password123")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "carol", created.Username)
	assert.Equal(t, "carol@x.com", created.Email)

	token := env.login(t, " carol ", "password123")
	assert.NotEmpty(t, token)

	w = env.register(t, strings.Repeat("b", 72), "long@x.com", strings.Repeat("p", 72))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "username", decodeError(t, w).Details[0].Field)

	w = env.register(t, "longpass", "long@x.com", strings.Repeat("p", 72))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env.login(t, "longpass", strings.Repeat("p", 72))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.register(t, "alice", "alice@x.com", "password123").Code)

	w := env.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.NotEmpty(t, out.AccessToken)
	assert.Equal(t, "bearer", out.TokenType)
	assert.Equal(t, int64(15*60), out.ExpiresIn)

	w = env.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Incorrect username or password.", decodeError(t, w).Error)

	w = env.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "nobody", "password": "password123"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")

	w := env.do(t, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"username":"alice","email":"alice@x.com"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = env.do(t, http.MethodGet, "/users/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	past, err := security.NewTokenService([]byte(testSecret), 0, func() time.Time {
		return time.Now().Add(-time.Hour)
	})
	require.NoError(t, err)
	expired, err := past.Issue(userID, 0)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/users/me", expired, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := security.NewTokenService([]byte("another-secret"), 0, nil)
	require.NoError(t, err)
	forged, err := other.Issue(userID, 0)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/users/me", forged, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	ghost, err := security.NewTokenService([]byte(testSecret), 0, nil)
	require.NoError(t, err)
	unknown, err := ghost.Issue(userID+100, 0)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/users/me", unknown, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequest_PersistsOneRow(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")

	w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{
		"model":      "GPT-3.5-Turbo",
		"prompt":     "Hello world",
		"parameters": gin.H{"temperature": 0.7},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Message   string `json:"message"`
		RequestID uint64 `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Request created successfully!", out.Message)
	assert.NotZero(t, out.RequestID)

	assert.Equal(t, 1, env.completer.Calls())
	assert.Equal(t, "gpt-3.5-turbo", env.completer.lastModel)
	assert.Equal(t, "Hello world", env.completer.lastPrompt)
	assert.Equal(t, 0.7, env.completer.lastParams["temperature"])

	rows, err := env.ledger.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, out.RequestID, rows[0].ID)
	assert.Equal(t, "Hello world", rows[0].Prompt)
	assert.Equal(t, "gpt-3.5-turbo", rows[0].Model)
	assert.Equal(t, "Hi there", rows[0].Response)
}

func TestCreateRequest_EmptyParametersDefault(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")

	w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{"model": "text-ada-001", "prompt": "Hello world"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rows, err := env.ledger.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].Parameters)
	assert.Empty(t, rows[0].Parameters)
}

func TestCreateRequest_InvalidModelRejectedBeforeGateway(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")

	for _, model := range []string{"invalid_model", " gpt-3.5-turbo\t", "text-ada-001 "} {
		w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{
			"model":      model,
			"prompt":     "Hello world",
			"parameters": gin.H{},
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, "model %q: %s", model, w.Body.String())
		out := decodeError(t, w)
		require.NotEmpty(t, out.Details)
		assert.Equal(t, "model", out.Details[0].Field)
	}

	assert.Zero(t, env.completer.Calls())
	rows, err := env.ledger.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateRequest_PromptLengthBoundary(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signUp(t, "alice")

	w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{
		"model":  "text-davinci-003",
		"prompt": strings.Repeat("é", 1000),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/requests/create", token, gin.H{
		"model":  "text-davinci-003",
		"prompt": strings.Repeat("a", 1001),
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "prompt", decodeError(t, w).Details[0].Field)
	assert.Equal(t, 1, env.completer.Calls())
}

func TestCreateRequest_ParametersMustBeObject(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signUp(t, "alice")

	for _, parameters := range []string{`[1,2]`, `null`, `"temperature"`, `3`} {
		w := env.do(t, http.MethodPost, "/requests/create", token, `{"model":"text-ada-001","prompt":"hi","parameters":`+parameters+`}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, "parameters %s: %s", parameters, w.Body.String())
		out := decodeError(t, w)
		require.NotEmpty(t, out.Details)
		assert.Equal(t, "parameters", out.Details[0].Field)
		assert.Equal(t, "must be a JSON object", out.Details[0].Message)
	}
	assert.Zero(t, env.completer.Calls())
}

func TestCreateRequest_EmptyPromptAccepted(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")

	w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{"model": "text-ada-001", "prompt": "", "parameters": gin.H{}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, env.completer.Calls())
	assert.Equal(t, "", env.completer.lastPrompt)

	rows, err := env.ledger.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].Prompt)

	w = env.do(t, http.MethodPost, "/requests/create", token, gin.H{"model": "text-ada-001"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	out := decodeError(t, w)
	require.NotEmpty(t, out.Details)
	assert.Equal(t, "prompt", out.Details[0].Field)
	assert.Equal(t, "is required", out.Details[0].Message)
	assert.Equal(t, 1, env.completer.Calls())
}

func TestCreateRequest_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/requests/create", "", gin.H{"model": "gpt-3.5-turbo", "prompt": "Hello world"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.Zero(t, env.completer.Calls())
}

func TestCreateRequest_UpstreamFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signUp(t, "alice")
	env.completer.err = &completion.UpstreamError{Status: http.StatusTooManyRequests, Type: "insufficient_quota", Message: "secret quota detail"}

	w := env.do(t, http.MethodPost, "/requests/create", token, gin.H{"model": "gpt-3.5-turbo", "prompt": "Hello world"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret quota detail")

	rows, err := env.ledger.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRequests_ListAndGetAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.signUp(t, "alice")
	_, bobToken := env.signUp(t, "bob")

	for _, prompt := range []string{"first", "second"} {
		w := env.do(t, http.MethodPost, "/requests/create", aliceToken, gin.H{"model": "text-curie-001", "prompt": prompt})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	var list struct {
		Requests []struct {
			ID       uint64 `json:"id"`
			Prompt   string `json:"prompt"`
			Response string `json:"response"`
		} `json:"requests"`
	}
	w := env.do(t, http.MethodGet, "/requests", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Requests, 2)
	assert.Equal(t, "first", list.Requests[0].Prompt)
	assert.Equal(t, "second", list.Requests[1].Prompt)
	firstID := list.Requests[0].ID

	w = env.do(t, http.MethodGet, "/requests", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"requests":[]}`, w.Body.String())

	path := "/requests/" + strconv.FormatUint(firstID, 10)
	w = env.do(t, http.MethodGet, path, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"prompt":"first"`)

	w = env.do(t, http.MethodGet, path, bobToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/requests/999999", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/requests/abc", aliceToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/requests/create", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

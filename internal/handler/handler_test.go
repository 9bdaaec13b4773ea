package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handauncle/hubot-relay/internal/dedup"
	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/llm"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/internal/store"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

type tokenResolver map[string]string

func (t tokenResolver) Resolve(_ context.Context, token string) (*identity.Identity, error) {
	email, ok := t[token]
	if !ok {
		return nil, identity.ErrInvalidCredential
	}
	return &identity.Identity{UserID: token, Email: email}, nil
}

type countingCompleter struct {
	calls int32
	err   error
	delay time.Duration
}

func (c *countingCompleter) Reply(ctx context.Context, p llm.Prompt) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return "", c.err
	}
	return "reply to " + p.Message, nil
}

type testServer struct {
	handler   http.Handler
	store     *store.Memory
	guard     *dedup.Guard
	completer *countingCompleter
	kb        *service.TextBlob
	system    *service.TextBlob
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()

	ts := &testServer{
		store:     store.NewMemory(),
		guard:     dedup.NewGuard(time.Minute),
		completer: &countingCompleter{},
		kb:        service.NewTextBlob(service.BlobKnowledgeBase, ""),
		system:    service.NewTextBlob(service.BlobSystemPrompt, "default prompt"),
	}
	conversations := service.NewConversationService(ts.store, log)
	messages := service.NewMessageService(ts.guard, ts.completer, conversations, ts.kb, ts.system, service.MessageConfig{}, log)

	ts.handler = NewRouter(Deps{
		Messages:      messages,
		Conversations: conversations,
		Cleanup:       service.NewCleanupService(conversations, 2, log),
		KnowledgeBase: ts.kb,
		SystemPrompt:  ts.system,
		Store:         ts.store,
		Resolver:      tokenResolver{"alice-token": "alice@x.com", "bob-token": "bob@x.com"},
		Logger:        log,
	}, RouterConfig{UploadMaxBytes: 1 << 20})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func multipartBody(t *testing.T, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/hubot/message", "alice-token", []byte(`{"message":"hello"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reply to hello", decode(t, rec)["reply"])

	conv, err := ts.store.Get(context.Background(), "alice@x_com")
	require.NoError(t, err)
	assert.Len(t, conv, 2)
}

func TestSendMessageBodyShapes(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
		reply       string
	}{
		{"object message", `{"message":"hi"}`, "application/json", http.StatusOK, "reply to hi"},
		{"object query", `{"query":"hi"}`, "", http.StatusOK, "reply to hi"},
		{"json string", `"hi"`, "", http.StatusOK, "reply to hi"},
		{"raw text", `hi`, "text/plain", http.StatusOK, "reply to hi"},
		{"text starting with bracket", "[urgent] my card was blocked", "text/plain", http.StatusOK, "reply to [urgent] my card was blocked"},
		{"text starting with brace", "{curious} how do SIPs work", "", http.StatusOK, "reply to {curious} how do SIPs work"},
		{"array", `["hi"]`, "", http.StatusBadRequest, ""},
		{"broken json", `{"message":`, "application/json", http.StatusBadRequest, ""},
		{"empty object", `{}`, "application/json", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/hubot/message", "", []byte(tt.body), tt.contentType)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.reply != "" {
				assert.Equal(t, tt.reply, decode(t, rec)["reply"])
			}
		})
	}
}

func TestSendMessageEmptyBodyHasNoSideEffects(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/hubot/message", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "error")

	assert.Equal(t, 0, ts.guard.Len())
	assert.Equal(t, int32(0), atomic.LoadInt32(&ts.completer.calls))
	keys, err := ts.store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSendMessageDuplicateAnonymous(t *testing.T) {
	ts := newTestServer(t)
	ts.completer.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	recs := make([]*httptest.ResponseRecorder, 2)
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i] = ts.do(t, http.MethodPost, "/hubot/message", "", []byte(`{"message":"hello"}`), "application/json")
		}(i)
		if i == 0 {
			require.Eventually(t, func() bool { return atomic.LoadInt32(&ts.completer.calls) == 1 }, time.Second, time.Millisecond)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.completer.calls))
	assert.Equal(t, http.StatusOK, recs[0].Code)
	assert.Equal(t, "reply to hello", decode(t, recs[0])["reply"])

	second := decode(t, recs[1])
	switch recs[1].Code {
	case http.StatusAccepted:
		assert.Equal(t, "processing", second["status"])
	case http.StatusOK:
		assert.Equal(t, "reply to hello", second["reply"])
	default:
		t.Fatalf("unexpected status %d", recs[1].Code)
	}

	// A later retry replays the cached reply.
	rec := ts.do(t, http.MethodPost, "/hubot/message", "", []byte(`{"message":"hello"}`), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reply to hello", decode(t, rec)["reply"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.completer.calls))
}

func TestSendMessageErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/hubot/message", "stolen-token", []byte(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, ts.guard.Len())

	ts.completer.err = errors.New("provider returned 502")
	rec = ts.do(t, http.MethodPost, "/hubot/message", "", []byte(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "provider returned 502")
}

func TestKnowledgeBaseEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/hubot/show-kb", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodPost, "/hubot/kb", "", []byte("line one"), "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, len("line one"), decode(t, rec)["length"])

	rec = ts.do(t, http.MethodPost, "/hubot/add-kb", "", []byte(`{"text":"line two"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "line one\nline two", ts.kb.Get())

	rec = ts.do(t, http.MethodPost, "/hubot/kb", "", []byte("   "), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/hubot/show-kb", "", nil, "")
	body := decode(t, rec)
	assert.Equal(t, "loaded", body["status"])
	assert.Equal(t, "line one\nline two", body["knowledgeBase"])
}

func TestKnowledgeBaseUpload(t *testing.T) {
	ts := newTestServer(t)
	ts.kb.Set("original")

	body, ct := multipartBody(t, "notes.pdf", []byte("%PDF-1.4"))
	rec := ts.do(t, http.MethodPost, "/hubot/kb-upload", "", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "original", ts.kb.Get())

	content := []byte("  exact\r\ncontent\twith spacing\n")
	body, ct = multipartBody(t, "notes.txt", content)
	rec = ts.do(t, http.MethodPost, "/hubot/kb-upload", "", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(content), ts.kb.Get())

	body, ct = multipartBody(t, "more.txt", []byte("appended"))
	rec = ts.do(t, http.MethodPost, "/hubot/add-kb-upload", "", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(content)+"\nappended", ts.kb.Get())

	rec = ts.do(t, http.MethodPost, "/hubot/kb-upload", "", []byte("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemPromptEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/hubot/show-system", "", nil, "")
	assert.Equal(t, "default prompt", decode(t, rec)["systemPrompt"])

	rec = ts.do(t, http.MethodPost, "/hubot/system", "", []byte(`"be brief"`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "be brief", ts.system.Get())

	rec = ts.do(t, http.MethodPost, "/hubot/add-system", "", []byte("and kind"), "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "be brief\nand kind", ts.system.Get())

	body, ct := multipartBody(t, "prompt.txt", []byte("from file"))
	rec = ts.do(t, http.MethodPost, "/hubot/system-upload", "", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from file", ts.system.Get())
}

func TestGetConversation(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, ts.store.Put(ctx, "alice@x_com", model.Conversation{model.NewEntry(model.RoleUser, "hi", now)}))
	require.NoError(t, ts.store.Put(ctx, model.AnonymousUserKey, model.Conversation{
		model.NewEntry(model.RoleUser, "a", now),
		model.NewEntry(model.RoleAssistant, "b", now),
	}))

	t.Run("own conversation", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation/alice@x.com", "alice-token", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "alice@x_com", body["userKey"])
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("other user is denied", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation/alice@x.com", "bob-token", nil, "")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "ACCESS_DENIED", decode(t, rec)["code"])
	})

	t.Run("unauthenticated path param", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation/alice@x.com", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation", "", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, model.AnonymousUserKey, body["userKey"])
		assert.EqualValues(t, 2, body["count"])
	})

	t.Run("authenticated without param", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation", "alice-token", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@x_com", decode(t, rec)["userKey"])
	})

	t.Run("missing user is empty", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/get-conversation/bob@x.com", "bob-token", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, decode(t, rec)["count"])
	})
}

func TestGetAllUsers(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Put(context.Background(), "alice@x_com", model.Conversation{model.NewEntry(model.RoleUser, "hi", time.Now())}))

	rec := ts.do(t, http.MethodGet, "/get-all-users", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/get-all-users", "bob-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["totalUsers"])
}

func TestCleanupDatabase(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.Put(ctx, "alice@x_com", model.Conversation{
		{Query: "legacy", Timestamp: "2023-01-01T00:00:00.000Z"},
		model.NewEntry(model.RoleUser, "hi", time.Now()),
	}))

	rec := ts.do(t, http.MethodPost, "/admin/cleanup-database", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	conv, err := ts.store.Get(ctx, "alice@x_com")
	require.NoError(t, err)
	assert.Len(t, conv, 2)

	rec = ts.do(t, http.MethodPost, "/admin/cleanup-database", "alice-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["usersScanned"])
	assert.EqualValues(t, 1, body["entriesRemoved"])

	rec = ts.do(t, http.MethodGet, "/get-conversation/alice@x.com", "alice-token", nil, "")
	assert.NotContains(t, rec.Body.String(), `"query"`)
}

func TestLegacyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/save-query", "/get-queries", "/get-queries/alice@x.com"} {
		rec := ts.do(t, http.MethodPost, path, "", nil, "")
		assert.Equal(t, http.StatusGone, rec.Code, path)
		assert.NotEmpty(t, decode(t, rec)["replacement"])
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	endpoints := body["endpoints"].([]interface{})
	assert.Contains(t, endpoints, "POST /hubot/message")
	assert.Contains(t, endpoints, "GET /get-conversation/{email}")

	rec = ts.do(t, http.MethodGet, "/ready", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

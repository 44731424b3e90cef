package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/jobs"
	"github.com/zknotes/zknotes-bridge/internal/notes"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

func setupConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"
	st := state.New(cfg)
	_, err := st.Setup(context.Background(), state.HostPaths{DataDir: t.TempDir(), Embedded: true}, nil)
	require.NoError(t, err)
	t.Cleanup(store.CloseAll)
	return st.View().Config
}

func newTestServer(t *testing.T) (*Server, *notes.Service) {
	t.Helper()
	svc := &notes.Service{BcryptCost: bcrypt.MinCost}
	s, err := New(context.Background(), setupConfig(t), svc, svc)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, svc
}

func doJSON(t *testing.T, s *Server, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// register 注册用户并返回签发的令牌。
func register(t *testing.T, s *Server, name string) string {
	t.Helper()
	w := doJSON(t, s, "/user", "", protocol.UserRequestMessage{
		What: protocol.UrqRegister,
		Data: rawJSON(t, protocol.Registration{UserID: name, Password: "secret"}),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp protocol.UserResponseMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, protocol.UrpLoggedIn, resp.What)
	tok := w.Header().Get(TokenHeader)
	require.NotEmpty(t, tok)
	return tok
}

type privateReply struct {
	UTCMillis int64 `json:"utcmillis"`
	Data      struct {
		What      protocol.PrivateReply `json:"what"`
		Content   json.RawMessage       `json:"content"`
		ClosureID string                `json:"closure_id"`
	} `json:"data"`
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), s.view.Server.UUID)
}

func TestPrivateRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)
	for _, tok := range []string{"", "bogus"} {
		w := doJSON(t, s, "/private", tok, protocol.PrivateMessage{What: protocol.PvqSearchZkNotes, ClosureID: "c1"})
		require.Equal(t, http.StatusUnauthorized, w.Code, "token %q", tok)

		var td privateReply
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &td))
		require.Equal(t, protocol.PvyServerError, td.Data.What)
		require.JSONEq(t, `"not logged in"`, string(td.Data.Content))
		require.Equal(t, "c1", td.Data.ClosureID)
		require.NotZero(t, td.UTCMillis)
	}
}

func TestTokenLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	tok := register(t, s, "alice")

	w := doJSON(t, s, "/private", tok, protocol.PrivateMessage{
		What: protocol.PvqSaveZkNote,
		Data: rawJSON(t, protocol.SaveZkNote{Title: "hello", Content: "world"}),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var td privateReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &td))
	require.Equal(t, protocol.PvySavedZkNote, td.Data.What)

	w = doJSON(t, s, "/user", tok, protocol.UserRequestMessage{What: protocol.UrqReadLoginData})
	var resp protocol.UserResponseMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, protocol.UrpLoginData, resp.What)

	w = doJSON(t, s, "/user", tok, protocol.UserRequestMessage{What: protocol.UrqLogout})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, protocol.UrpLoggedOut, resp.What)

	w = doJSON(t, s, "/private", tok, protocol.PrivateMessage{What: protocol.PvqSearchZkNotes})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginIssuesFreshToken(t *testing.T) {
	s, _ := newTestServer(t)
	first := register(t, s, "bob")

	w := doJSON(t, s, "/user", "", protocol.UserRequestMessage{
		What: protocol.UrqLogin,
		Data: rawJSON(t, protocol.Login{UserID: "bob", Password: "secret"}),
	})
	second := w.Header().Get(TokenHeader)
	require.NotEmpty(t, second)
	require.NotEqual(t, first, second)

	w = doJSON(t, s, "/user", "", protocol.UserRequestMessage{
		What: protocol.UrqLogin,
		Data: rawJSON(t, protocol.Login{UserID: "bob", Password: "wrong"}),
	})
	require.Empty(t, w.Header().Get(TokenHeader))
	var resp protocol.UserResponseMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, protocol.UrpInvalidUserOrPwd, resp.What)
}

func TestPublicNoteNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, "/public", "", protocol.PublicMessage{
		What: protocol.PbrGetZkNote,
		Data: rawJSON(t, protocol.ZkNoteID{ID: "00000000-0000-0000-0000-000000000000"}),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var td protocol.PublicTimedData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &td))
	require.Equal(t, protocol.PbyNoteNotFound, td.Data.What)
}

func TestMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/public", strings.NewReader("{"))
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileWithToken(t *testing.T) {
	s, _ := newTestServer(t)
	tok := register(t, s, "carol")
	uid, err := s.conn.UserIDForToken(context.Background(), tok, s.view.Config.LoginTokenExpirationMS)
	require.NoError(t, err)

	const hash = "abc123"
	require.NoError(t, os.WriteFile(filepath.Join(s.view.Config.FilePath, hash), []byte("blob"), 0o644))
	note, err := s.conn.CreateFileNote(context.Background(), uid, "blob.txt", hash, 4)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/file/"+note.ID+"?token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "blob", w.Body.String())

	// 私有笔记对匿名查看者不可见
	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/file/"+note.ID, nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/file/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func getWithToken(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestJobRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	tok := register(t, s, "erin")
	job := s.Jobs().Start(context.Background(), "noop", func(context.Context, *jobs.Monitor) error { return nil })
	require.NoError(t, job.Wait())

	w := getWithToken(t, s, "/jobs/"+strconv.FormatInt(job.ID, 10), tok)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"noop"`)

	require.Equal(t, http.StatusNotFound, getWithToken(t, s, "/jobs/999", tok).Code)
	require.Equal(t, http.StatusBadRequest, getWithToken(t, s, "/jobs/x", tok).Code)
	require.Equal(t, http.StatusUnauthorized, getWithToken(t, s, "/jobs", "").Code)
	require.Equal(t, http.StatusUnauthorized, getWithToken(t, s, "/jobs/1", "bogus").Code)
	require.Equal(t, http.StatusOK, getWithToken(t, s, "/metrics", "").Code)
}

// uploadRequest 构造 multipart 上传请求, names[i] 对应内容 bodies[i]。
func uploadRequest(t *testing.T, token string, names []string, bodies []string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, name := range names {
		fw, err := mw.CreateFormFile(UploadField, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(bodies[i]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestUploadRunsAsJob(t *testing.T) {
	s, _ := newTestServer(t)
	tok := register(t, s, "fay")

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, uploadRequest(t, tok, []string{"a.txt", "b.txt"}, []string{"alpha", "beta"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted struct {
		Success bool `json:"success"`
		Data    struct {
			JobID int64 `json:"job_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.True(t, accepted.Success)

	job, ok := s.Jobs().Get(accepted.Data.JobID)
	require.True(t, ok)
	require.NoError(t, job.Wait())

	w = getWithToken(t, s, "/jobs/"+strconv.FormatInt(job.ID, 10), tok)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Data jobs.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, jobs.StateDone, status.Data.State)
	require.Contains(t, status.Data.Log, "1/2 a.txt -> ")
	require.Contains(t, status.Data.Log, "2/2 b.txt -> ")

	// 同一任务也可经私有消息查询
	pw := doJSON(t, s, "/private", tok, protocol.PrivateMessage{
		What: protocol.PvqGetJobStatus,
		Data: rawJSON(t, protocol.JobID{ID: job.ID}),
	})
	require.Equal(t, http.StatusOK, pw.Code)
	var pr privateReply
	require.NoError(t, json.Unmarshal(pw.Body.Bytes(), &pr))
	require.Equal(t, protocol.PvyJobStatus, pr.Data.What)

	// 临时落盘目录在任务结束后清理
	left, err := filepath.Glob(filepath.Join(s.view.Config.FileTmpPath, "http-upload-*"))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestUploadRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	tok := register(t, s, "gus")

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, uploadRequest(t, "", []string{"a.txt"}, []string{"alpha"}))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, uploadRequest(t, tok, nil, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, s.Jobs().List())
}

func TestWebSocketRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	require.NoError(t, ws.WriteJSON(Envelope{
		Kind: "user",
		Msg: rawJSON(t, protocol.UserRequestMessage{
			What: protocol.UrqRegister,
			Data: rawJSON(t, protocol.Registration{UserID: "dave", Password: "secret"}),
		}),
	}))
	var login struct {
		Kind  string                       `json:"kind"`
		Token string                       `json:"token"`
		Reply protocol.UserResponseMessage `json:"reply"`
	}
	require.NoError(t, ws.ReadJSON(&login))
	require.Equal(t, protocol.UrpLoggedIn, login.Reply.What)
	require.NotEmpty(t, login.Token)

	require.NoError(t, ws.WriteJSON(Envelope{
		Kind:  "private",
		Token: login.Token,
		Msg:   rawJSON(t, protocol.PrivateMessage{What: protocol.PvqSearchZkNotes, Data: rawJSON(t, protocol.ZkNoteSearch{})}),
	}))
	var search struct {
		Reply privateReply `json:"reply"`
	}
	require.NoError(t, ws.ReadJSON(&search))
	require.Equal(t, protocol.PvyZkListNoteSearch, search.Reply.Data.What)

	require.NoError(t, ws.WriteJSON(Envelope{Kind: "bogus"}))
	var unknown map[string]any
	require.NoError(t, ws.ReadJSON(&unknown))
	require.Equal(t, "bogus", unknown["kind"])
}

func TestCheckLocalOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8000", true},
		{"wails://wails", true},
		{"https://evil.example", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		require.Equal(t, tc.want, checkLocalOrigin(r), tc.origin)
	}
}

func TestLauncherStopsOnCancel(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"
	st := state.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	svc := &notes.Service{BcryptCost: bcrypt.MinCost}
	l := NewLauncher(ctx, svc, svc)
	_, err := st.Setup(ctx, state.HostPaths{DataDir: t.TempDir(), Embedded: true}, l)
	require.NoError(t, err)

	select {
	case <-l.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not start")
	}
	require.NotNil(t, l.Addr())

	// 第二次 Launch 不应再启动监听器
	l.Launch(st.View().Config, "")

	cancel()
	select {
	case <-l.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not stop")
	}
	require.NoError(t, l.Err())

	logger.ShutdownFileHandler()
	store.CloseAll()
	goleak.VerifyNone(t, ignore)
}

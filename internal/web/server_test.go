package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parsekit/fileparser/internal/auth"
	"github.com/parsekit/fileparser/internal/config"
	"github.com/parsekit/fileparser/internal/ingest"
	"github.com/parsekit/fileparser/internal/notify"
	"github.com/parsekit/fileparser/internal/store"
)

type testEnv struct {
	server *Server
	mem    *store.Memory
	svc    *ingest.Service
	hub    *notify.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Upload.MaxFileSize = 10 << 20
	cfg.API.PageSize = 100
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour

	mem := store.NewMemory()
	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	svc, err := ingest.NewService(mem, hub, t.TempDir(), ingest.Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	return &testEnv{
		server: NewServer(svc, mem, mem, tokens, hub, cfg),
		mem:    mem,
		svc:    svc,
		hub:    hub,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

// signupAndLogin registers an account and returns a valid access token.
func (e *testEnv) signupAndLogin(t *testing.T) string {
	t.Helper()
	creds := []byte(`{"email":"user@example.com","password":"supersecret"}`)

	rr := e.do(t, http.MethodPost, "/auth/signup", "", creds)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rr.Code, rr.Body)
	}

	rr = e.do(t, http.MethodPost, "/auth/login", "", creds)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.TokenType != "bearer" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %s", rr.Body)
	}
	return resp.AccessToken
}

// uploadCSV posts a multipart upload and waits for the background parse.
func (e *testEnv) uploadCSV(t *testing.T, token, filename, content string) uuid.UUID {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rr.Code, rr.Body)
	}
	var resp struct {
		FileID string `json:"file_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.Status != string(ingest.StatusProcessing) {
		t.Errorf("upload response status = %q, want %q", resp.Status, ingest.StatusProcessing)
	}

	id, err := uuid.Parse(resp.FileID)
	if err != nil {
		t.Fatalf("upload returned invalid file_id %q", resp.FileID)
	}
	e.svc.WaitParse(id)
	return id
}

func TestSignup_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	creds := []byte(`{"email":"dup@example.com","password":"supersecret"}`)

	if rr := env.do(t, http.MethodPost, "/auth/signup", "", creds); rr.Code != http.StatusCreated {
		t.Fatalf("first signup status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/auth/signup", "", creds); rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate signup status = %d, want 400", rr.Code)
	}
}

func TestSignup_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing email", `{"password":"supersecret"}`},
		{"bad email", `{"email":"nope","password":"supersecret"}`},
		{"short password", `{"email":"a@b.c","password":"short"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/auth/signup", "", []byte(tt.body))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)

	tests := []struct {
		name string
		body string
	}{
		{"wrong password", `{"email":"user@example.com","password":"wrongwrong"}`},
		{"unknown user", `{"email":"ghost@example.com","password":"supersecret"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/auth/login", "", []byte(tt.body))
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}
}

func TestUpload_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/files", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("upload without token status = %d, want 401", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/files/"+uuid.NewString(), "garbage-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("delete with bad token status = %d, want 401", rr.Code)
	}
}

func TestUploadParseAndContent(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t)
	id := env.uploadCSV(t, token, "people.csv", "name,age\nalice,30\nbob,25\ncarol,41\n")

	// Progress endpoint needs no auth and reflects the terminal state
	rr := env.do(t, http.MethodGet, "/files/"+id.String()+"/progress", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("progress status = %d, body %s", rr.Code, rr.Body)
	}
	var prog struct {
		FileID   string `json:"file_id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if prog.Status != string(ingest.StatusReady) || prog.Progress != 100 {
		t.Errorf("progress = %+v, want ready at 100", prog)
	}

	rr = env.do(t, http.MethodGet, "/files/"+id.String(), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("content status = %d, body %s", rr.Code, rr.Body)
	}
	var content struct {
		Page      int               `json:"page"`
		Limit     int               `json:"limit"`
		TotalRows int               `json:"total_rows"`
		Rows      []json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content.Page != 1 || content.Limit != 100 || content.TotalRows != 3 {
		t.Errorf("content meta = %+v, want page 1, limit 100, total 3", content)
	}
	if len(content.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(content.Rows))
	}
	if string(content.Rows[0]) != `{"name":"alice","age":"30"}` {
		t.Errorf("row 0 = %s", content.Rows[0])
	}
}

func TestContent_Pagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t)
	id := env.uploadCSV(t, token, "people.csv", "name\na\nb\nc\nd\ne\n")

	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
		wantRows  int
		firstName string
	}{
		{"second page", "?page=2&limit=2", 2, 2, 2, "c"},
		{"page floor", "?page=0&limit=2", 1, 2, 2, "a"},
		{"limit floor", "?limit=-3", 1, 1, 1, "a"},
		{"limit ceiling", "?limit=5000", 1, 1000, 5, "a"},
		{"past the end", "?page=99&limit=2", 99, 2, 0, ""},
		{"malformed values", "?page=abc&limit=xyz", 1, 100, 5, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/files/"+id.String()+tt.query, "", nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
			}
			var content struct {
				Page      int               `json:"page"`
				Limit     int               `json:"limit"`
				TotalRows int               `json:"total_rows"`
				Rows      []json.RawMessage `json:"rows"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &content); err != nil {
				t.Fatalf("decode content: %v", err)
			}
			if content.Page != tt.wantPage || content.Limit != tt.wantLimit {
				t.Errorf("page/limit = %d/%d, want %d/%d", content.Page, content.Limit, tt.wantPage, tt.wantLimit)
			}
			if content.TotalRows != 5 {
				t.Errorf("total_rows = %d, want 5", content.TotalRows)
			}
			if len(content.Rows) != tt.wantRows {
				t.Fatalf("got %d rows, want %d", len(content.Rows), tt.wantRows)
			}
			if tt.wantRows > 0 {
				want := fmt.Sprintf(`{"name":%q}`, tt.firstName)
				if string(content.Rows[0]) != want {
					t.Errorf("row 0 = %s, want %s", content.Rows[0], want)
				}
			}
		})
	}
}

func TestContent_NonReadyStates(t *testing.T) {
	env := newTestEnv(t)

	seed := func(status ingest.Status, errMsg string) uuid.UUID {
		id := uuid.New()
		err := env.mem.CreateFile(context.Background(), ingest.FileRecord{
			ID:           id,
			Filename:     "f.csv",
			Status:       status,
			ErrorMessage: errMsg,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed file: %v", err)
		}
		return id
	}

	uploading := seed(ingest.StatusUploading, "")
	processing := seed(ingest.StatusProcessing, "")
	failed := seed(ingest.StatusFailed, "bad header row")

	if rr := env.do(t, http.MethodGet, "/files/"+uploading.String(), "", nil); rr.Code != http.StatusAccepted {
		t.Errorf("uploading content status = %d, want 202", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/files/"+processing.String(), "", nil); rr.Code != http.StatusAccepted {
		t.Errorf("processing content status = %d, want 202", rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/files/"+failed.String(), "", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("failed content status = %d, want 409", rr.Code)
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "bad header row" {
		t.Errorf("error = %q, want %q", body.Error, "bad header row")
	}
}

func TestFileLookup_NotFound(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{
		"/files/" + uuid.NewString(),
		"/files/" + uuid.NewString() + "/progress",
		"/files/not-a-uuid/progress",
	}
	for _, path := range paths {
		if rr := env.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rr.Code)
		}
	}
}

func TestListFiles_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now().UTC()

	for i, name := range []string{"oldest.csv", "middle.csv", "newest.csv"} {
		err := env.mem.CreateFile(context.Background(), ingest.FileRecord{
			ID:        uuid.New(),
			Filename:  name,
			Status:    ingest.StatusReady,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	rr := env.do(t, http.MethodGet, "/files", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var files []struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	want := []string{"newest.csv", "middle.csv", "oldest.csv"}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d", len(files), len(want))
	}
	for i, w := range want {
		if files[i].Filename != w {
			t.Errorf("files[%d] = %q, want %q", i, files[i].Filename, w)
		}
	}
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t)
	id := env.uploadCSV(t, token, "gone.csv", "a\n1\n")

	rr := env.do(t, http.MethodDelete, "/files/"+id.String(), token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", rr.Code, rr.Body)
	}

	if rr := env.do(t, http.MethodGet, "/files/"+id.String()+"/progress", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("progress after delete status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/files/"+id.String(), token, nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	fileID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/files/"+fileID+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// Publish after the subscription is live; retry until the subscriber
	// registers since the handler runs concurrently.
	go func() {
		for i := 0; i < 100; i++ {
			env.hub.Publish(fileID, notify.Event{Stage: notify.StageProcessing, Progress: notify.Percent(42)})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no event data received: %v", scanner.Err())
	}

	var ev struct {
		Stage    string `json:"stage"`
		Progress int    `json:"progress"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if ev.Stage != "processing" || ev.Progress != 42 {
		t.Errorf("event = %+v, want processing at 42", ev)
	}
}

func TestEventsStream_MixedCaseID(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	// The coordinator publishes under the canonical lowercase UUID form; a
	// client subscribing with the uppercase form gets the same stream.
	canonical := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/files/"+strings.ToUpper(canonical)+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}
	defer resp.Body.Close()

	go func() {
		for i := 0; i < 100; i++ {
			env.hub.Publish(canonical, notify.Event{Stage: notify.StageProcessing, Progress: notify.Percent(7)})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no event data received: %v", scanner.Err())
	}

	var ev struct {
		Stage    string `json:"stage"`
		Progress int    `json:"progress"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if ev.Stage != "processing" || ev.Progress != 7 {
		t.Errorf("event = %+v, want processing at 7", ev)
	}
}

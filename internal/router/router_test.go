package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/handler"
	"github.com/stemsi/exstem-gate/internal/middleware"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/repository/sqlitestore"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/validator"
	ws "github.com/stemsi/exstem-gate/internal/websocket"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "operator-key-123"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type testServer struct {
	t          *testing.T
	engine     *gin.Engine
	store      *sqlitestore.Store
	admin      *service.AdminService
	auth       *service.AuthService
	assessment *model.Assessment
	alice, bob model.Learner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlitestore.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "test-secret",
		TicketTTL:      15 * time.Minute,
		AdminJWTExpiry: time.Hour,
		AdminKeyHash:   string(hash),
		BcryptCost:     bcrypt.MinCost,
	}

	log := zerolog.Nop()
	authService := service.NewAuthService(cfg)
	identityService := service.NewIdentityService(store, log)
	sessionService := service.NewSessionService(store, store, service.NewAccessService(store), service.NopSink{}, log)
	statusService := service.NewStatusService(store, store, store)
	adminService := service.NewAdminService(store, store, store)

	handlers := &Handlers{
		Auth:         handler.NewAuthHandler(authService, identityService, log),
		Session:      handler.NewSessionHandler(sessionService, log),
		Admin:        handler.NewAdminHandler(statusService, adminService, log),
		StatusStream: handler.NewStatusStreamHandler(statusService, nil, log, nil),
		System:       handler.NewSystemHandler(store, config.DriverSQLite, nil, log),
	}
	limiter := middleware.NewRateLimiter(1000, time.Minute)

	ts := &testServer{
		t:      t,
		engine: SetupRouter(authService, handlers, cfg, limiter.Middleware()),
		store:  store,
		admin:  adminService,
		auth:   authService,
	}

	ctx := context.Background()
	learners := []model.Learner{
		{Name: "Alice Smith", ContactNumber: "+1 555 0100"},
		{Name: "Bob Jones", ContactNumber: "0812 3456"},
	}
	if _, err := adminService.ImportLearners(ctx, learners); err != nil {
		t.Fatalf("import learners: %v", err)
	}
	ts.alice, ts.bob = learners[0], learners[1]

	ts.assessment = &model.Assessment{
		Title: "Algebra I",
		Items: []model.AssessmentItem{
			{Ref: "q1", QuestionRef: "Q-17", ExpectedAnswer: "4", Points: 2},
			{Ref: "q2", QuestionRef: "Q-18", ExpectedAnswer: "x = 3", Points: 3},
		},
	}
	if err := adminService.ImportAssessment(ctx, ts.assessment); err != nil {
		t.Fatalf("import assessment: %v", err)
	}
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, headers map[string]string) (int, envelope) {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		ts.t.Fatalf("%s %s: decode envelope: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func (ts *testServer) decode(env envelope, v interface{}) {
	ts.t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		ts.t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

func expectError(t *testing.T, code int, env envelope, wantStatus int, wantCode response.ErrCode) {
	t.Helper()
	if code != wantStatus {
		t.Errorf("expected status %d, got %d", wantStatus, code)
	}
	if env.Error == nil || env.Error.Code != wantCode {
		t.Errorf("expected error code %s, got %+v", wantCode, env.Error)
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (ts *testServer) ticket(name, contact string) string {
	ts.t.Helper()
	code, env := ts.do(http.MethodPost, "/api/v1/auth/verify", gin.H{"name": name, "contact_number": contact}, nil)
	if code != http.StatusOK {
		ts.t.Fatalf("verify: status %d, error %+v", code, env.Error)
	}
	var resp model.VerifyIdentityResponse
	ts.decode(env, &resp)
	return resp.Ticket
}

func (ts *testServer) start(ticket string) model.StartSessionResponse {
	ts.t.Helper()
	code, env := ts.do(http.MethodPost, "/api/v1/assessments/"+ts.assessment.ID.String()+"/sessions", nil, bearer(ticket))
	if code != http.StatusCreated {
		ts.t.Fatalf("start: status %d, error %+v", code, env.Error)
	}
	var resp model.StartSessionResponse
	ts.decode(env, &resp)
	return resp
}

func (ts *testServer) adminToken() string {
	ts.t.Helper()
	code, env := ts.do(http.MethodPost, "/api/v1/auth/admin/login", gin.H{"key": adminKey}, nil)
	if code != http.StatusOK {
		ts.t.Fatalf("admin login: status %d, error %+v", code, env.Error)
	}
	var resp model.AdminLoginResponse
	ts.decode(env, &resp)
	return resp.Token
}

func TestLearnerFlow(t *testing.T) {
	ts := newTestServer(t)

	// Matching ignores spacing and punctuation differences in the contact number.
	ticket := ts.ticket("  Alice   Smith ", "+1 (555) 0100")
	started := ts.start(ticket)
	if len(started.SessionToken) < 40 {
		t.Fatalf("token looks too short: %q", started.SessionToken)
	}

	tokenHeader := map[string]string{middleware.HeaderSessionToken: started.SessionToken}

	code, env := ts.do(http.MethodGet, "/api/v1/session", nil, tokenHeader)
	if code != http.StatusOK {
		t.Fatalf("state: status %d, error %+v", code, env.Error)
	}
	var state model.SessionStateResponse
	ts.decode(env, &state)
	if state.State != model.SessionStateLive || state.SessionID != started.SessionID {
		t.Errorf("unexpected state: %+v", state)
	}

	code, env = ts.do(http.MethodGet, "/api/v1/session/paper", nil, tokenHeader)
	if code != http.StatusOK {
		t.Fatalf("paper: status %d, error %+v", code, env.Error)
	}
	if strings.Contains(string(env.Data), "expected_answer") || strings.Contains(string(env.Data), "x = 3") {
		t.Errorf("paper leaks expected answers: %s", env.Data)
	}
	var paper model.Paper
	ts.decode(env, &paper)
	if len(paper.Items) != 2 || paper.Items[0].Ref != "q1" {
		t.Errorf("unexpected paper: %+v", paper)
	}

	submit := gin.H{
		"session_token": started.SessionToken,
		"answers":       []gin.H{{"item_ref": "q1", "answer": "4"}},
	}
	code, env = ts.do(http.MethodPost, "/api/v1/session/submit", submit, nil)
	if code != http.StatusCreated {
		t.Fatalf("submit: status %d, error %+v", code, env.Error)
	}
	var submitted model.SubmitResponse
	ts.decode(env, &submitted)
	if submitted.SubmissionID == uuid.Nil || submitted.DurationSeconds < 0 {
		t.Errorf("unexpected submit response: %+v", submitted)
	}

	code, env = ts.do(http.MethodPost, "/api/v1/session/submit", submit, nil)
	expectError(t, code, env, http.StatusConflict, response.ErrAlreadyCompleted)

	code, env = ts.do(http.MethodPost, "/api/v1/assessments/"+ts.assessment.ID.String()+"/sessions", nil, bearer(ticket))
	expectError(t, code, env, http.StatusConflict, response.ErrAlreadyCompleted)

	code, env = ts.do(http.MethodGet, "/api/v1/session/paper", nil, tokenHeader)
	expectError(t, code, env, http.StatusConflict, response.ErrAlreadyCompleted)
}

func TestVerifyIdentityFailures(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(http.MethodPost, "/api/v1/auth/verify", gin.H{"name": "Alice Smith", "contact_number": "+1 555 9999"}, nil)
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)

	// Names compare case-sensitively.
	code, env = ts.do(http.MethodPost, "/api/v1/auth/verify", gin.H{"name": "alice smith", "contact_number": "+1 555 0100"}, nil)
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)

	code, env = ts.do(http.MethodPost, "/api/v1/auth/verify", gin.H{"name": "Alice Smith", "contact_number": "call me"}, nil)
	expectError(t, code, env, http.StatusBadRequest, response.ErrValidation)
	if env.Error != nil && env.Error.Fields["contact_number"] == "" {
		t.Errorf("expected a contact_number field error, got %v", env.Error.Fields)
	}
}

func TestStartSessionAuth(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/assessments/" + ts.assessment.ID.String() + "/sessions"

	code, env := ts.do(http.MethodPost, path, nil, nil)
	expectError(t, code, env, http.StatusUnauthorized, response.ErrTokenRequired)

	code, env = ts.do(http.MethodPost, path, nil, bearer(ts.adminToken()))
	expectError(t, code, env, http.StatusUnauthorized, response.ErrTokenInvalid)

	ticket := ts.ticket("Alice Smith", "+15550100")
	code, env = ts.do(http.MethodPost, "/api/v1/assessments/not-a-uuid/sessions", nil, bearer(ticket))
	expectError(t, code, env, http.StatusBadRequest, response.ErrInvalidID)

	code, env = ts.do(http.MethodPost, "/api/v1/assessments/"+uuid.NewString()+"/sessions", nil, bearer(ticket))
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)
}

func TestStartSessionChunkedBody(t *testing.T) {
	ts := newTestServer(t)
	ticket := ts.ticket("Alice Smith", "+15550100")

	// A reader of unknown length arrives like a chunked upload.
	body := io.MultiReader(strings.NewReader(`{"client":"kiosk-7"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/"+ts.assessment.ID.String()+"/sessions", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ticket)
	req.Header.Set(response.HeaderRequestID, "kiosk-7-start")
	if req.ContentLength != -1 {
		t.Fatalf("expected unknown content length, got %d", req.ContentLength)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var resp model.StartSessionResponse
	ts.decode(env, &resp)

	session, err := ts.store.GetByTokenHash(context.Background(), service.HashToken(resp.SessionToken))
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if session.ClientMeta["client"] != "kiosk-7" {
		t.Errorf("expected client kiosk-7 in audit metadata, got %+v", session.ClientMeta)
	}
	if session.ClientMeta["request_id"] != "kiosk-7-start" {
		t.Errorf("expected request id in audit metadata, got %+v", session.ClientMeta)
	}
}

func TestStartSessionDenied(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.admin.SetGrant(context.Background(), ts.assessment.ID, ts.bob.ID, true); err != nil {
		t.Fatalf("grant: %v", err)
	}

	path := "/api/v1/assessments/" + ts.assessment.ID.String() + "/sessions"
	code, env := ts.do(http.MethodPost, path, nil, bearer(ts.ticket("Alice Smith", "+15550100")))
	expectError(t, code, env, http.StatusForbidden, response.ErrNoAccess)

	ts.start(ts.ticket("Bob Jones", "08123456"))
}

func TestSubmitFailures(t *testing.T) {
	ts := newTestServer(t)

	unknown := gin.H{
		"session_token": strings.Repeat("A", 43),
		"answers":       []gin.H{},
	}
	code, env := ts.do(http.MethodPost, "/api/v1/session/submit", unknown, nil)
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)

	started := ts.start(ts.ticket("Alice Smith", "+15550100"))
	badItem := gin.H{
		"session_token": started.SessionToken,
		"answers":       []gin.H{{"item_ref": "q9", "answer": "1"}},
	}
	code, env = ts.do(http.MethodPost, "/api/v1/session/submit", badItem, nil)
	expectError(t, code, env, http.StatusUnprocessableEntity, response.ErrInvalidAnswers)

	code, env = ts.do(http.MethodPost, "/api/v1/session/submit", gin.H{"answers": []gin.H{}}, nil)
	expectError(t, code, env, http.StatusBadRequest, response.ErrValidation)

	// The failed attempts leave the session live.
	code, _ = ts.do(http.MethodPost, "/api/v1/session/submit", gin.H{
		"session_token": started.SessionToken,
		"answers":       []gin.H{{"item_ref": "q2", "answer": "x = 3"}},
	}, nil)
	if code != http.StatusCreated {
		t.Errorf("expected submit to succeed, got %d", code)
	}
}

func TestSessionReadsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(http.MethodGet, "/api/v1/session", nil, nil)
	expectError(t, code, env, http.StatusUnauthorized, response.ErrTokenRequired)

	code, env = ts.do(http.MethodGet, "/api/v1/session", nil, map[string]string{middleware.HeaderSessionToken: "nope"})
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)
}

func TestAdminStatus(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(http.MethodPost, "/api/v1/auth/admin/login", gin.H{"key": "wrong-key-000"}, nil)
	expectError(t, code, env, http.StatusUnauthorized, response.ErrInvalidCredentials)

	statusPath := "/api/v1/admin/assessments/" + ts.assessment.ID.String() + "/status"

	ticket := ts.ticket("Alice Smith", "+15550100")
	code, env = ts.do(http.MethodGet, statusPath, nil, bearer(ticket))
	expectError(t, code, env, http.StatusForbidden, response.ErrAdminAccessOnly)

	started := ts.start(ticket)
	code, _ = ts.do(http.MethodPost, "/api/v1/session/submit", gin.H{
		"session_token": started.SessionToken,
		"answers":       []gin.H{{"item_ref": "q1", "answer": "4"}},
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("submit: status %d", code)
	}
	ts.start(ts.ticket("Bob Jones", "08123456"))

	admin := bearer(ts.adminToken())
	code, env = ts.do(http.MethodGet, statusPath, nil, admin)
	if code != http.StatusOK {
		t.Fatalf("status: %d %+v", code, env.Error)
	}
	var status model.AssessmentStatus
	ts.decode(env, &status)
	if len(status.Completed) != 1 || status.Completed[0].LearnerID != ts.alice.ID {
		t.Errorf("unexpected completed: %+v", status.Completed)
	}
	if len(status.NotCompleted) != 1 || status.NotCompleted[0].LearnerID != ts.bob.ID || !status.NotCompleted[0].Started {
		t.Errorf("unexpected not completed: %+v", status.NotCompleted)
	}
	if status.CompletionRate != 0.5 {
		t.Errorf("expected rate 0.5, got %v", status.CompletionRate)
	}

	code, env = ts.do(http.MethodGet, "/api/v1/admin/assessments/"+uuid.NewString()+"/status", nil, admin)
	expectError(t, code, env, http.StatusNotFound, response.ErrNotFound)
}

func TestAdminListGrants(t *testing.T) {
	ts := newTestServer(t)
	admin := bearer(ts.adminToken())
	path := "/api/v1/admin/assessments/" + ts.assessment.ID.String() + "/grants"

	var out struct {
		Grants     []model.AccessGrant `json:"grants"`
		Restricted bool                `json:"restricted"`
	}

	code, env := ts.do(http.MethodGet, path, nil, admin)
	if code != http.StatusOK {
		t.Fatalf("grants: %d", code)
	}
	ts.decode(env, &out)
	if out.Grants == nil || len(out.Grants) != 0 || out.Restricted {
		t.Errorf("expected an open assessment, got %+v", out)
	}

	ctx := context.Background()
	if err := ts.admin.SetGrant(ctx, ts.assessment.ID, ts.alice.ID, true); err != nil {
		t.Fatal(err)
	}
	code, env = ts.do(http.MethodGet, path, nil, admin)
	if code != http.StatusOK {
		t.Fatalf("grants: %d", code)
	}
	ts.decode(env, &out)
	if len(out.Grants) != 1 || !out.Restricted {
		t.Errorf("expected one active grant, got %+v", out)
	}

	// A revoked grant is listed but no longer restricts.
	if err := ts.admin.SetGrant(ctx, ts.assessment.ID, ts.alice.ID, false); err != nil {
		t.Fatal(err)
	}
	_, env = ts.do(http.MethodGet, path, nil, admin)
	ts.decode(env, &out)
	if len(out.Grants) != 1 || out.Restricted {
		t.Errorf("expected a revoked grant only, got %+v", out)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(http.MethodGet, "/health", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	var health struct {
		Status   string `json:"status"`
		Database struct {
			Status string `json:"status"`
		} `json:"database"`
		Redis struct {
			Status string `json:"status"`
		} `json:"redis"`
	}
	ts.decode(env, &health)
	if health.Status != "ok" || health.Database.Status != "ok" || health.Redis.Status != "disabled" {
		t.Errorf("unexpected health: %+v", health)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "exstem_gate_http_request_duration_seconds") {
		t.Errorf("metrics endpoint missing request histogram (status %d)", w.Code)
	}
}

func TestStatusStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/admin/assessments/" + ts.assessment.ID.String() + "/status?token=" + ts.adminToken()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap ws.SnapshotResponse
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Event != ws.EventSnapshot || snap.Reason != ws.ReasonInitial || snap.Status.RosterSize != 2 {
		t.Errorf("unexpected initial snapshot: %+v", snap)
	}

	if err := conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}); err != nil {
		t.Fatal(err)
	}
	var pong ws.PongResponse
	if err := conn.ReadJSON(&pong); err != nil || pong.Event != ws.EventPong {
		t.Fatalf("expected pong, got %+v (%v)", pong, err)
	}

	started := ts.start(ts.ticket("Alice Smith", "+15550100"))
	code, _ := ts.do(http.MethodPost, "/api/v1/session/submit", gin.H{
		"session_token": started.SessionToken,
		"answers":       []gin.H{},
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}

	if err := conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionRefresh}); err != nil {
		t.Fatal(err)
	}
	snap = ws.SnapshotResponse{}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read refresh: %v", err)
	}
	if snap.Reason != ws.ReasonRequested || len(snap.Status.Completed) != 1 {
		t.Errorf("unexpected refreshed snapshot: %+v", snap)
	}
}

func TestStatusStreamRejectsUnknownAssessment(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/admin/assessments/" + uuid.NewString() + "/status?token=" + ts.adminToken()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %v", resp)
	}
}

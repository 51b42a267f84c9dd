package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/config"
	"github.com/jkaninda/hazina-mcp/internal/ratelimit"
	"github.com/jkaninda/hazina-mcp/internal/session"
	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAPI serves canned secrets; gateway tests only need reads.
type stubAPI struct {
	vaultapi.API

	vaultID string
	agentID string
	secrets []vaultapi.Secret
}

func (s *stubAPI) VaultID() string { return s.vaultID }
func (s *stubAPI) AgentID() string { return s.agentID }
func (s *stubAPI) ListSecrets(context.Context) ([]vaultapi.Secret, error) {
	return s.secrets, nil
}

func localComponents(api vaultapi.API) *Components {
	return &Components{
		Config: &config.Config{Mode: config.ModeLocal},
		Logger: testLogger(),
		Router: session.NewSingle(api, testLogger()),
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	r.Header.Set("X-Hazina-Vault-Id", "v_1")
	r.Header.Set("X-Hazina-Agent-Id", "agent_1")

	ctx := credentialsFromRequest(context.Background(), r)
	creds, ok := session.CredentialsFromContext(ctx)
	if !ok {
		t.Fatal("expected credentials in context")
	}
	want := session.Credentials{AccessToken: "tok-123", VaultID: "v_1", AgentID: "agent_1"}
	if creds != want {
		t.Errorf("got %+v, want %+v", creds, want)
	}
}

func TestCredentialsFromRequest_SchemeIsCaseInsensitive(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "bearer tok-123")
	r.Header.Set("X-Hazina-Vault-Id", "v_1")

	creds, ok := session.CredentialsFromContext(credentialsFromRequest(context.Background(), r))
	if !ok || creds.AccessToken != "tok-123" {
		t.Errorf("got %+v, want the token extracted", creds)
	}
}

func TestCredentialsFromRequest_NoHeadersLeavesContextBare(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)

	ctx := credentialsFromRequest(context.Background(), r)
	if _, ok := session.CredentialsFromContext(ctx); ok {
		t.Error("expected no credentials without headers")
	}

	// A non-bearer scheme carries no usable token.
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	ctx = credentialsFromRequest(context.Background(), r)
	if _, ok := session.CredentialsFromContext(ctx); ok {
		t.Error("expected no credentials from a basic auth header")
	}
}

func TestSessionHooks_UnregisterDropsState(t *testing.T) {
	var built int
	router := session.NewPerSession(func(creds session.Credentials) (vaultapi.API, error) {
		built++
		return &stubAPI{vaultID: creds.VaultID}, nil
	}, testLogger())
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})

	c := &Components{
		Config:  &config.Config{Mode: config.ModeHosted},
		Logger:  testLogger(),
		Router:  router,
		Limiter: limiter,
	}
	hooks := c.sessionHooks()

	srv := server.NewMCPServer(serverName, "test")
	sess := &fakeSession{id: "sess-1"}
	ctx := srv.WithContext(context.Background(), sess)
	ctx = session.WithCredentials(ctx, session.Credentials{AccessToken: "t", VaultID: "v_1"})

	if _, err := router.Executor(ctx); err != nil {
		t.Fatalf("Executor: %v", err)
	}
	if err := limiter.Allow("sess-1"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if router.Len() != 1 {
		t.Fatalf("got Len=%d, want 1", router.Len())
	}

	for _, f := range hooks.OnUnregisterSession {
		f(ctx, sess)
	}

	if router.Len() != 0 {
		t.Errorf("got Len=%d after unregister, want 0", router.Len())
	}
	// The bucket was removed, so the next call starts a full one.
	if err := limiter.Allow("sess-1"); err != nil {
		t.Errorf("Allow after unregister: %v", err)
	}
	if built != 1 {
		t.Errorf("got %d factory calls, want 1", built)
	}
}

func TestNewMCPServer_ListsToolsAndResources(t *testing.T) {
	c := localComponents(&stubAPI{vaultID: "v_1"})
	s := newMCPServer(c)

	ctx := s.WithContext(context.Background(), &fakeSession{id: "sess-1"})

	res := s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"get_secret"`) {
		t.Error("tools/list is missing get_secret")
	}

	res = s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`))
	data, err = json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, uri := range []string{"hazina://vault/info", "hazina://vault/secrets"} {
		if !strings.Contains(string(data), uri) {
			t.Errorf("resources/list is missing %s", uri)
		}
	}
}

func TestNewMCPServer_HostedHasNoVaultResources(t *testing.T) {
	c := &Components{
		Config: &config.Config{Mode: config.ModeHosted},
		Logger: testLogger(),
		Router: session.NewPerSession(func(session.Credentials) (vaultapi.API, error) {
			return nil, nil
		}, testLogger()),
	}
	s := newMCPServer(c)

	ctx := s.WithContext(context.Background(), &fakeSession{id: "sess-1"})
	res := s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "hazina://vault/") {
		t.Error("hosted mode must not expose the local vault resources")
	}
}

func TestReadVaultSecrets_StripsValues(t *testing.T) {
	c := localComponents(&stubAPI{
		vaultID: "v_1",
		secrets: []vaultapi.Secret{
			{Path: "db/password", Value: "hunter2", Version: 2},
		},
	})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "hazina://vault/secrets"
	contents, err := c.readVaultSecrets(context.Background(), req)
	if err != nil {
		t.Fatalf("readVaultSecrets: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text := contents[0].(mcp.TextResourceContents).Text
	if strings.Contains(text, "hunter2") {
		t.Error("resource leaked a secret value")
	}
	if !strings.Contains(text, "db/password") {
		t.Error("resource is missing the secret path")
	}
}

func TestReadVaultInfo(t *testing.T) {
	c := localComponents(&stubAPI{vaultID: "v_1", agentID: "agent_1"})
	c.Config.API.BaseURL = "https://api.hazina.dev"

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "hazina://vault/info"
	contents, err := c.readVaultInfo(context.Background(), req)
	if err != nil {
		t.Fatalf("readVaultInfo: %v", err)
	}

	text := contents[0].(mcp.TextResourceContents).Text
	for _, want := range []string{`"v_1"`, `"agent_1"`, `"local"`} {
		if !strings.Contains(text, want) {
			t.Errorf("info is missing %s: %s", want, text)
		}
	}
}

func TestMountObservability_ProbesWithoutObservability(t *testing.T) {
	g := &HTTP{
		components: &Components{Config: &config.Config{Mode: config.ModeHosted}, Logger: testLogger()},
		logger:     testLogger(),
	}
	mux := http.NewServeMux()
	g.mountObservability(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: got status %d, want 200", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"ok"`) {
			t.Errorf("%s: got body %q", path, rec.Body.String())
		}
	}
}

func TestBuild_LocalStaticToken(t *testing.T) {
	cfg := &config.Config{
		Mode:    config.ModeLocal,
		DataDir: t.TempDir(),
		API:     config.APIConfig{VaultID: "v_1", AccessToken: "tok"},
	}

	gw, c, err := Build(cfg, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Cleanup()

	if _, ok := gw.(*Stdio); !ok {
		t.Errorf("got %T, want *Stdio", gw)
	}
	api, err := c.Router.Executor(context.Background())
	if err != nil {
		t.Fatalf("Executor: %v", err)
	}
	if api.VaultID() != "v_1" {
		t.Errorf("got VaultID=%q, want v_1", api.VaultID())
	}
}

func TestBuild_LocalWithoutCredentialsFails(t *testing.T) {
	cfg := &config.Config{
		Mode:    config.ModeLocal,
		DataDir: t.TempDir(),
		API:     config.APIConfig{VaultID: "v_1"},
	}

	if _, _, err := Build(cfg, testLogger()); err == nil {
		t.Fatal("expected startup to fail without credentials")
	}
}

func TestBuild_Hosted(t *testing.T) {
	cfg := &config.Config{
		Mode:    config.ModeHosted,
		DataDir: t.TempDir(),
	}

	gw, c, err := Build(cfg, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Cleanup()

	if _, ok := gw.(*HTTP); !ok {
		t.Errorf("got %T, want *HTTP", gw)
	}
	// Hosted executors come from sessions, never from config.
	if _, err := c.Router.Executor(context.Background()); err == nil {
		t.Error("expected no executor without a session")
	}
}

// fakeSession satisfies server.ClientSession.
type fakeSession struct {
	id          string
	initialized bool
}

func (f *fakeSession) SessionID() string { return f.id }
func (f *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return make(chan mcp.JSONRPCNotification, 1)
}
func (f *fakeSession) Initialize()       { f.initialized = true }
func (f *fakeSession) Initialized() bool { return f.initialized }

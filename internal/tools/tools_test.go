package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/audit"
	"github.com/jkaninda/hazina-mcp/internal/observability"
	"github.com/jkaninda/hazina-mcp/internal/ratelimit"
	"github.com/jkaninda/hazina-mcp/internal/session"
	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI returns canned values and records the requests it sees.
type fakeAPI struct {
	vaultID string
	agentID string
	err     error

	secrets []vaultapi.Secret
	secret  *vaultapi.Secret
	vaults  []vaultapi.Vault
	vault   *vaultapi.Vault
	grant   *vaultapi.ShareGrant
	policy  *vaultapi.Policy
	sim     *vaultapi.Simulation
	bundle  *vaultapi.BundleSimulation
	receipt *vaultapi.TransactionReceipt

	gotPath   string
	gotPut    vaultapi.PutSecretRequest
	gotShare  vaultapi.ShareSecretRequest
	gotPolicy vaultapi.CreatePolicyRequest
	gotTx     vaultapi.TransactionRequest
	gotBundle vaultapi.BundleRequest
	deleted   []string
}

func (f *fakeAPI) ListSecrets(context.Context) ([]vaultapi.Secret, error) {
	return f.secrets, f.err
}

func (f *fakeAPI) GetSecret(_ context.Context, path string) (*vaultapi.Secret, error) {
	f.gotPath = path
	if f.err != nil {
		return nil, f.err
	}
	return f.secret, nil
}

func (f *fakeAPI) PutSecret(_ context.Context, path string, req vaultapi.PutSecretRequest) (*vaultapi.Secret, error) {
	f.gotPath = path
	f.gotPut = req
	if f.err != nil {
		return nil, f.err
	}
	return f.secret, nil
}

func (f *fakeAPI) DeleteSecret(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return f.err
}

func (f *fakeAPI) ListVaults(context.Context) ([]vaultapi.Vault, error) {
	return f.vaults, f.err
}

func (f *fakeAPI) CreateVault(_ context.Context, req vaultapi.CreateVaultRequest) (*vaultapi.Vault, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vault, nil
}

func (f *fakeAPI) ShareSecret(_ context.Context, secretID string, req vaultapi.ShareSecretRequest) (*vaultapi.ShareGrant, error) {
	f.gotPath = secretID
	f.gotShare = req
	if f.err != nil {
		return nil, f.err
	}
	return f.grant, nil
}

func (f *fakeAPI) CreatePolicy(_ context.Context, req vaultapi.CreatePolicyRequest) (*vaultapi.Policy, error) {
	f.gotPolicy = req
	if f.err != nil {
		return nil, f.err
	}
	return f.policy, nil
}

func (f *fakeAPI) SimulateTransaction(_ context.Context, req vaultapi.TransactionRequest) (*vaultapi.Simulation, error) {
	f.gotTx = req
	if f.err != nil {
		return nil, f.err
	}
	return f.sim, nil
}

func (f *fakeAPI) SimulateBundle(_ context.Context, req vaultapi.BundleRequest) (*vaultapi.BundleSimulation, error) {
	f.gotBundle = req
	if f.err != nil {
		return nil, f.err
	}
	return f.bundle, nil
}

func (f *fakeAPI) SubmitTransaction(_ context.Context, req vaultapi.TransactionRequest) (*vaultapi.TransactionReceipt, error) {
	f.gotTx = req
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func (f *fakeAPI) AgentID() string { return f.agentID }
func (f *fakeAPI) VaultID() string { return f.vaultID }

var _ vaultapi.API = (*fakeAPI)(nil)

// memRecorder collects audit events in memory.
type memRecorder struct {
	events []audit.Event
}

func (m *memRecorder) Record(_ context.Context, e audit.Event) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memRecorder) Close() error { return nil }

func newDeps(api vaultapi.API) *Deps {
	return &Deps{
		Router:   session.NewSingle(api, testLogger()),
		Logger:   testLogger(),
		Topology: "local",
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func invoke(t *testing.T, d *Deps, tool string, h handlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := d.wrap(tool, h)(context.Background(), callRequest(tool, args))
	if err != nil {
		t.Fatalf("%s: %v", tool, err)
	}
	return res
}

func TestListSecrets_NeverIncludesValues(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		secrets: []vaultapi.Secret{
			{Path: "db/password", Value: "hunter2", Type: "password", Version: 3},
			{Path: "api-keys/stripe", Value: "sk_live_abc", Version: 1},
		},
	}
	d := newDeps(api)

	res := invoke(t, d, "list_secrets", d.listSecrets, nil)
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	text := resultText(t, res)

	var listing secretListing
	if err := json.Unmarshal([]byte(text), &listing); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if listing.VaultID != "v_1" || listing.Count != 2 {
		t.Errorf("got vault=%q count=%d, want v_1/2", listing.VaultID, listing.Count)
	}
	if strings.Contains(text, "hunter2") || strings.Contains(text, "sk_live_abc") {
		t.Error("listing leaked secret values")
	}
	if listing.Secrets[0].Path != "db/password" || listing.Secrets[0].Version != 3 {
		t.Errorf("summary lost fields: %+v", listing.Secrets[0])
	}
}

func TestGetSecret_ReturnsValue(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		secret:  &vaultapi.Secret{Path: "db/password", Value: "hunter2", Version: 3},
	}
	d := newDeps(api)

	res := invoke(t, d, "get_secret", d.getSecret, map[string]any{"path": "db/password"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if api.gotPath != "db/password" {
		t.Errorf("got path %q, want db/password", api.gotPath)
	}
	if !strings.Contains(resultText(t, res), "hunter2") {
		t.Error("get_secret should return the value")
	}
}

func TestGetSecret_NotFoundRemapped(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		err:     &vaultapi.APIError{StatusCode: http.StatusNotFound, Detail: "HTTP 404"},
	}
	d := newDeps(api)

	res := invoke(t, d, "get_secret", d.getSecret, map[string]any{"path": "missing/key"})
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	text := resultText(t, res)
	want := `no secret stored at "missing/key" in vault v_1`
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestGetSecret_GoneRemapped(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		err:     &vaultapi.APIError{StatusCode: http.StatusGone, Detail: "HTTP 410"},
	}
	d := newDeps(api)

	res := invoke(t, d, "get_secret", d.getSecret, map[string]any{"path": "old/key"})
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if !strings.Contains(resultText(t, res), "has been deleted") {
		t.Errorf("got %q, want a deleted-secret message", resultText(t, res))
	}
}

func TestGetSecret_MissingPathArgument(t *testing.T) {
	d := newDeps(&fakeAPI{vaultID: "v_1"})

	res := invoke(t, d, "get_secret", d.getSecret, nil)
	if !res.IsError {
		t.Fatal("expected an error result for a missing argument")
	}
}

func TestPutSecret_DoesNotEchoValue(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		secret:  &vaultapi.Secret{Path: "db/password", Value: "hunter2", Version: 4},
	}
	d := newDeps(api)

	res := invoke(t, d, "put_secret", d.putSecret, map[string]any{
		"path":     "db/password",
		"value":    "hunter2",
		"type":     "password",
		"metadata": map[string]any{"env": "prod"},
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	if api.gotPut.Value != "hunter2" || api.gotPut.Type != "password" {
		t.Errorf("request lost fields: %+v", api.gotPut)
	}
	if api.gotPut.Metadata["env"] != "prod" {
		t.Errorf("metadata not forwarded: %+v", api.gotPut.Metadata)
	}

	text := resultText(t, res)
	if strings.Contains(text, "hunter2") {
		t.Error("put_secret echoed the stored value")
	}
	if !strings.Contains(text, `"version": 4`) {
		t.Errorf("expected the stored version in %q", text)
	}
}

func TestPutSecret_RejectsNonStringMetadata(t *testing.T) {
	d := newDeps(&fakeAPI{vaultID: "v_1"})

	res := invoke(t, d, "put_secret", d.putSecret, map[string]any{
		"path":     "db/password",
		"value":    "x",
		"metadata": map[string]any{"ttl": 30},
	})
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if !strings.Contains(resultText(t, res), "must be a string") {
		t.Errorf("got %q", resultText(t, res))
	}
}

func TestDeleteSecret(t *testing.T) {
	api := &fakeAPI{vaultID: "v_1"}
	d := newDeps(api)

	res := invoke(t, d, "delete_secret", d.deleteSecret, map[string]any{"path": "db/password"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if len(api.deleted) != 1 || api.deleted[0] != "db/password" {
		t.Errorf("got deletions %v", api.deleted)
	}
	if !strings.Contains(resultText(t, res), "db/password") {
		t.Errorf("confirmation should name the path: %q", resultText(t, res))
	}
}

func TestShareSecret_DefaultsAndValidation(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		grant:   &vaultapi.ShareGrant{ID: "grant_1", SecretID: "sec_1", RecipientAgentID: "agent_2"},
	}
	d := newDeps(api)

	res := invoke(t, d, "share_secret", d.shareSecret, map[string]any{
		"secret_id":          "sec_1",
		"recipient_agent_id": "agent_2",
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if api.gotShare.Permission != "read" {
		t.Errorf("got permission %q, want the read default", api.gotShare.Permission)
	}

	res = invoke(t, d, "share_secret", d.shareSecret, map[string]any{
		"secret_id":          "sec_1",
		"recipient_agent_id": "agent_2",
		"permission":         "admin",
	})
	if !res.IsError {
		t.Fatal("expected rejection of an unknown permission")
	}

	res = invoke(t, d, "share_secret", d.shareSecret, map[string]any{
		"secret_id":          "sec_1",
		"recipient_agent_id": "agent_2",
		"ttl_seconds":        -5,
	})
	if !res.IsError {
		t.Fatal("expected rejection of a negative ttl")
	}
}

func TestCreatePolicy_PassesRulesThrough(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		policy:  &vaultapi.Policy{ID: "pol_1", Name: "limit-reads"},
	}
	d := newDeps(api)

	res := invoke(t, d, "create_policy", d.createPolicy, map[string]any{
		"name": "limit-reads",
		"rules": map[string]any{
			"max_reads_per_hour": float64(100),
			"allowed_paths":      []any{"db/*"},
		},
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if api.gotPolicy.Rules["max_reads_per_hour"] != float64(100) {
		t.Errorf("rules not forwarded: %+v", api.gotPolicy.Rules)
	}

	res = invoke(t, d, "create_policy", d.createPolicy, map[string]any{"name": "no-rules"})
	if !res.IsError {
		t.Fatal("expected rejection when rules are missing")
	}
}

func TestSimulateBundle_ParsesTransactionArray(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		bundle:  &vaultapi.BundleSimulation{Success: true, TotalGasUsed: 42000},
	}
	d := newDeps(api)

	res := invoke(t, d, "simulate_bundle", d.simulateBundle, map[string]any{
		"transactions": []any{
			map[string]any{"to": "0xabc", "value": "1000"},
			map[string]any{"to": "0xdef", "data": "0x095ea7b3", "chain_id": float64(8453)},
		},
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	txs := api.gotBundle.Transactions
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if txs[0].To != "0xabc" || txs[0].Value != "1000" {
		t.Errorf("first transaction lost fields: %+v", txs[0])
	}
	if txs[1].ChainID != 8453 || txs[1].Data != "0x095ea7b3" {
		t.Errorf("second transaction lost fields: %+v", txs[1])
	}

	res = invoke(t, d, "simulate_bundle", d.simulateBundle, map[string]any{
		"transactions": []any{},
	})
	if !res.IsError {
		t.Fatal("expected rejection of an empty bundle")
	}

	res = invoke(t, d, "simulate_bundle", d.simulateBundle, map[string]any{
		"transactions": []any{map[string]any{"value": "1"}},
	})
	if !res.IsError {
		t.Fatal("expected rejection when a member has no destination")
	}
}

func TestSubmitTransaction(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		agentID: "agent_1",
		receipt: &vaultapi.TransactionReceipt{ID: "tx_1", Hash: "0xhash", Status: "pending"},
	}
	d := newDeps(api)

	res := invoke(t, d, "submit_transaction", d.submitTransaction, map[string]any{
		"to":       "0xabc",
		"value":    "1000",
		"chain_id": float64(1),
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if api.gotTx.To != "0xabc" || api.gotTx.ChainID != 1 {
		t.Errorf("request lost fields: %+v", api.gotTx)
	}
	if !strings.Contains(resultText(t, res), "0xhash") {
		t.Error("receipt hash missing from the result")
	}
}

func TestWrap_APIErrorDetailSurfacesVerbatim(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		err: &vaultapi.APIError{
			StatusCode: http.StatusPaymentRequired,
			Detail:     "This operation requires an active billing plan. Please visit https://hazina.dev/billing to upgrade your plan.",
		},
	}
	d := newDeps(api)

	res := invoke(t, d, "list_secrets", d.listSecrets, nil)
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if got := resultText(t, res); got != api.err.Error() {
		t.Errorf("got %q, want the upstream detail verbatim", got)
	}
}

func TestWrap_RecordsAuditEvents(t *testing.T) {
	api := &fakeAPI{
		vaultID: "v_1",
		agentID: "agent_1",
		secrets: []vaultapi.Secret{{Path: "a", Version: 1}},
	}
	rec := &memRecorder{}
	d := newDeps(api)
	d.Recorder = rec

	invoke(t, d, "list_secrets", d.listSecrets, nil)

	api.err = &vaultapi.APIError{StatusCode: http.StatusForbidden, Detail: "denied"}
	invoke(t, d, "list_secrets", d.listSecrets, nil)

	if len(rec.events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(rec.events))
	}

	ok := rec.events[0]
	if ok.Tool != "list_secrets" || ok.Outcome != audit.OutcomeOK {
		t.Errorf("first event: %+v", ok)
	}
	if ok.VaultID != "v_1" || ok.AgentID != "agent_1" || ok.Topology != "local" {
		t.Errorf("first event missing identity fields: %+v", ok)
	}

	failed := rec.events[1]
	if failed.Outcome != audit.OutcomeError || failed.StatusCode != http.StatusForbidden {
		t.Errorf("second event: %+v", failed)
	}
	if failed.Detail != "denied" {
		t.Errorf("got detail %q, want the upstream detail", failed.Detail)
	}
}

func TestWrap_RateLimited(t *testing.T) {
	api := &fakeAPI{vaultID: "v_1", secrets: []vaultapi.Secret{}}
	rec := &memRecorder{}
	d := newDeps(api)
	d.Recorder = rec
	d.Limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})

	res := invoke(t, d, "list_secrets", d.listSecrets, nil)
	if res.IsError {
		t.Fatalf("first call should pass: %s", resultText(t, res))
	}

	res = invoke(t, d, "list_secrets", d.listSecrets, nil)
	if !res.IsError {
		t.Fatal("second call should be rate limited")
	}
	if !strings.Contains(resultText(t, res), "rate limit exceeded") {
		t.Errorf("got %q", resultText(t, res))
	}

	last := rec.events[len(rec.events)-1]
	if last.Outcome != audit.OutcomeRateLimited {
		t.Errorf("got outcome %q, want %q", last.Outcome, audit.OutcomeRateLimited)
	}
}

func TestWrap_CountsToolMetrics(t *testing.T) {
	api := &fakeAPI{vaultID: "v_1", secrets: []vaultapi.Secret{}}
	metrics := observability.NewMetricsCollector()
	d := newDeps(api)
	d.Metrics = metrics

	invoke(t, d, "list_secrets", d.listSecrets, nil)
	api.err = &vaultapi.APIError{StatusCode: http.StatusBadGateway, Detail: "upstream down"}
	invoke(t, d, "list_secrets", d.listSecrets, nil)

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "hazina_tool_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					counts[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["success"] != 1 || counts["error"] != 1 {
		t.Errorf("got counts %v, want one success and one error", counts)
	}
}

func TestWrap_NoSessionBecomesDeniedResult(t *testing.T) {
	rec := &memRecorder{}
	d := &Deps{
		Router: session.NewPerSession(func(session.Credentials) (vaultapi.API, error) {
			t.Fatal("factory must not run without a session")
			return nil, nil
		}, testLogger()),
		Recorder: rec,
		Logger:   testLogger(),
		Topology: "hosted",
	}

	res := invoke(t, d, "list_secrets", d.listSecrets, nil)
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if len(rec.events) != 1 || rec.events[0].Outcome != audit.OutcomeDenied {
		t.Errorf("got events %+v, want one denied", rec.events)
	}
}

func TestAddTools_RegistersAll(t *testing.T) {
	s := server.NewMCPServer("hazina-mcp", "test")
	d := newDeps(&fakeAPI{vaultID: "v_1"})
	AddTools(s, d)

	ctx := s.WithContext(context.Background(), &fakeSession{id: "sess-1"})
	res := s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	for _, name := range []string{
		"list_secrets", "get_secret", "put_secret", "delete_secret",
		"create_vault", "list_vaults", "share_secret", "create_policy",
		"simulate_transaction", "simulate_bundle", "submit_transaction",
	} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}

	var listing struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Annotations struct {
					ReadOnlyHint    *bool `json:"readOnlyHint"`
					DestructiveHint *bool `json:"destructiveHint"`
				} `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	hints := make(map[string]struct{ readOnly, destructive bool })
	for _, tool := range listing.Result.Tools {
		hints[tool.Name] = struct{ readOnly, destructive bool }{
			readOnly:    tool.Annotations.ReadOnlyHint != nil && *tool.Annotations.ReadOnlyHint,
			destructive: tool.Annotations.DestructiveHint != nil && *tool.Annotations.DestructiveHint,
		}
	}
	if !hints["submit_transaction"].destructive {
		t.Error("submit_transaction should carry a destructive hint")
	}
	if !hints["delete_secret"].destructive {
		t.Error("delete_secret should carry a destructive hint")
	}
	if !hints["get_secret"].readOnly || hints["get_secret"].destructive {
		t.Error("get_secret should be read-only")
	}
}

// fakeSession satisfies server.ClientSession for registration tests.
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

func TestRenderResult(t *testing.T) {
	if got, err := renderResult("plain text"); err != nil || got != "plain text" {
		t.Errorf("got %q, %v", got, err)
	}

	got, err := renderResult(map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("renderResult: %v", err)
	}
	if !strings.Contains(got, `"n": 1`) {
		t.Errorf("got %q, want indented JSON", got)
	}
}

func TestLimiterKey(t *testing.T) {
	if limiterKey("") != localLimiterKey {
		t.Error("empty session id should map to the local bucket")
	}
	if limiterKey("sess-1") != "sess-1" {
		t.Error("session ids key their own bucket")
	}
}

func TestRecordAudit_FillsDuration(t *testing.T) {
	rec := &memRecorder{}
	d := newDeps(&fakeAPI{vaultID: "v_1"})
	d.Recorder = rec

	start := time.Now().Add(-50 * time.Millisecond)
	d.recordAudit(context.Background(), "get_secret", "sess-1", audit.OutcomeOK, 0, "", start)

	if len(rec.events) != 1 {
		t.Fatalf("got %d events, want 1", len(rec.events))
	}
	if rec.events[0].DurationMS < 50 {
		t.Errorf("got duration %dms, want >= 50", rec.events[0].DurationMS)
	}
}

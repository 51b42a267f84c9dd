package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

// --- InstrumentedAPI ---

// InstrumentedAPI wraps a vaultapi.API with metrics, tracing, and anomaly
// detection. Endpoint labels use the route template, never the raw path, so
// secret names cannot blow up metric cardinality.
type InstrumentedAPI struct {
	inner   vaultapi.API
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedAPI wraps an executor with observability.
func NewInstrumentedAPI(inner vaultapi.API, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedAPI {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedAPI{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (a *InstrumentedAPI) AgentID() string { return a.inner.AgentID() }
func (a *InstrumentedAPI) VaultID() string { return a.inner.VaultID() }

func (a *InstrumentedAPI) ListSecrets(ctx context.Context) ([]vaultapi.Secret, error) {
	ctx, end := a.startSpan(ctx, "hazina.list_secrets")
	defer end()

	start := time.Now()
	secrets, err := a.inner.ListSecrets(ctx)
	a.observe(ctx, "list_secrets", http.MethodGet, "/v1/vaults/{vault_id}/secrets", start, err)
	return secrets, err
}

func (a *InstrumentedAPI) GetSecret(ctx context.Context, path string) (*vaultapi.Secret, error) {
	ctx, end := a.startSpan(ctx, "hazina.get_secret",
		attribute.String("hazina.secret_path", path))
	defer end()

	start := time.Now()
	secret, err := a.inner.GetSecret(ctx, path)
	a.observe(ctx, "get_secret", http.MethodGet, "/v1/vaults/{vault_id}/secrets/{path}", start, err)
	return secret, err
}

func (a *InstrumentedAPI) PutSecret(ctx context.Context, path string, req vaultapi.PutSecretRequest) (*vaultapi.Secret, error) {
	ctx, end := a.startSpan(ctx, "hazina.put_secret",
		attribute.String("hazina.secret_path", path))
	defer end()

	start := time.Now()
	secret, err := a.inner.PutSecret(ctx, path, req)
	a.observe(ctx, "put_secret", http.MethodPut, "/v1/vaults/{vault_id}/secrets/{path}", start, err)
	return secret, err
}

func (a *InstrumentedAPI) DeleteSecret(ctx context.Context, path string) error {
	ctx, end := a.startSpan(ctx, "hazina.delete_secret",
		attribute.String("hazina.secret_path", path))
	defer end()

	start := time.Now()
	err := a.inner.DeleteSecret(ctx, path)
	a.observe(ctx, "delete_secret", http.MethodDelete, "/v1/vaults/{vault_id}/secrets/{path}", start, err)
	return err
}

func (a *InstrumentedAPI) ListVaults(ctx context.Context) ([]vaultapi.Vault, error) {
	ctx, end := a.startSpan(ctx, "hazina.list_vaults")
	defer end()

	start := time.Now()
	vaults, err := a.inner.ListVaults(ctx)
	a.observe(ctx, "list_vaults", http.MethodGet, "/v1/vaults", start, err)
	return vaults, err
}

func (a *InstrumentedAPI) CreateVault(ctx context.Context, req vaultapi.CreateVaultRequest) (*vaultapi.Vault, error) {
	ctx, end := a.startSpan(ctx, "hazina.create_vault")
	defer end()

	start := time.Now()
	vault, err := a.inner.CreateVault(ctx, req)
	a.observe(ctx, "create_vault", http.MethodPost, "/v1/vaults", start, err)
	return vault, err
}

func (a *InstrumentedAPI) ShareSecret(ctx context.Context, secretID string, req vaultapi.ShareSecretRequest) (*vaultapi.ShareGrant, error) {
	ctx, end := a.startSpan(ctx, "hazina.share_secret",
		attribute.String("hazina.secret_id", secretID),
		attribute.String("hazina.recipient", req.RecipientAgentID))
	defer end()

	start := time.Now()
	grant, err := a.inner.ShareSecret(ctx, secretID, req)
	a.observe(ctx, "share_secret", http.MethodPost, "/v1/secrets/{id}/share", start, err)
	return grant, err
}

func (a *InstrumentedAPI) CreatePolicy(ctx context.Context, req vaultapi.CreatePolicyRequest) (*vaultapi.Policy, error) {
	ctx, end := a.startSpan(ctx, "hazina.create_policy",
		attribute.String("hazina.policy_name", req.Name))
	defer end()

	start := time.Now()
	policy, err := a.inner.CreatePolicy(ctx, req)
	a.observe(ctx, "create_policy", http.MethodPost, "/v1/vaults/{vault_id}/policies", start, err)
	return policy, err
}

func (a *InstrumentedAPI) SimulateTransaction(ctx context.Context, req vaultapi.TransactionRequest) (*vaultapi.Simulation, error) {
	ctx, end := a.startSpan(ctx, "hazina.simulate_transaction")
	defer end()

	start := time.Now()
	sim, err := a.inner.SimulateTransaction(ctx, req)
	a.observe(ctx, "simulate_transaction", http.MethodPost, "/v1/agents/{id}/transactions/simulate", start, err)
	return sim, err
}

func (a *InstrumentedAPI) SimulateBundle(ctx context.Context, req vaultapi.BundleRequest) (*vaultapi.BundleSimulation, error) {
	ctx, end := a.startSpan(ctx, "hazina.simulate_bundle")
	defer end()

	start := time.Now()
	sim, err := a.inner.SimulateBundle(ctx, req)
	a.observe(ctx, "simulate_bundle", http.MethodPost, "/v1/agents/{id}/transactions/simulate-bundle", start, err)
	return sim, err
}

func (a *InstrumentedAPI) SubmitTransaction(ctx context.Context, req vaultapi.TransactionRequest) (*vaultapi.TransactionReceipt, error) {
	ctx, end := a.startSpan(ctx, "hazina.submit_transaction")
	defer end()

	start := time.Now()
	receipt, err := a.inner.SubmitTransaction(ctx, req)
	a.observe(ctx, "submit_transaction", http.MethodPost, "/v1/agents/{id}/transactions", start, err)
	return receipt, err
}

// startSpan opens a span carrying the bound vault id plus any extra
// attributes. The returned func is a no-op when tracing is disabled.
func (a *InstrumentedAPI) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if a.tracer == nil {
		return ctx, func() {}
	}
	attrs = append(attrs, attribute.String("hazina.vault_id", a.inner.VaultID()))
	ctx, span := a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// observe records the outcome of one upstream call. The status label is
// "success" on a clean return, the upstream HTTP status code when the error
// carries one, and "error" for transport and other failures.
func (a *InstrumentedAPI) observe(ctx context.Context, operation, method, endpoint string, start time.Time, err error) {
	if err != nil && a.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			var apiErr *vaultapi.APIError
			if errors.As(err, &apiErr) {
				status = statusCode(apiErr.StatusCode)
			}
		}
		a.metrics.APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		a.metrics.APIRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}

	if a.anomaly != nil {
		if err != nil {
			a.anomaly.RecordError(operation)
		} else {
			a.anomaly.RecordSuccess(operation)
		}
	}
}

// --- InstrumentedTokenSource ---

// InstrumentedTokenSource counts token exchanges. A refresh is detected by
// the returned token differing from the previous one, so Token stays cheap
// on the cached path. Wrap exchangeable sources only; a static source would
// register a single spurious refresh on first use.
type InstrumentedTokenSource struct {
	inner   vaultapi.TokenSource
	metrics *MetricsCollector

	mu   sync.Mutex
	last string
}

// NewInstrumentedTokenSource wraps a token source with refresh counting.
func NewInstrumentedTokenSource(inner vaultapi.TokenSource, metrics *MetricsCollector) *InstrumentedTokenSource {
	return &InstrumentedTokenSource{inner: inner, metrics: metrics}
}

func (s *InstrumentedTokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.inner.Token(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		}
		return "", err
	}

	if s.metrics != nil {
		s.mu.Lock()
		refreshed := token != s.last
		s.last = token
		s.mu.Unlock()
		if refreshed {
			s.metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
		}
	}

	return token, nil
}

// --- Compile-time interface checks ---

var (
	_ vaultapi.API         = (*InstrumentedAPI)(nil)
	_ vaultapi.TokenSource = (*InstrumentedTokenSource)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vorion/internal/config"
	"vorion/internal/domain"
	"vorion/internal/infra/anchor"
	anchormem "vorion/internal/infra/anchor/memory"
	"vorion/internal/infra/chainmem"
	"vorion/internal/infra/keys/soft"
	"vorion/internal/infra/noncestore"
	"vorion/internal/infra/policyopa"
	"vorion/internal/infra/ratelimit"
	"vorion/internal/usecase"
)

// stubProofBackend stands in for the Groth16 backend: a proof is the
// canonical encoding of the public inputs, so tampering is detectable
// without any pairing work.
type stubProofBackend struct {
	vkHash string
}

func (b *stubProofBackend) Prove(_ context.Context, _ domain.ClaimType, public domain.ClaimPublicInputs, _ usecase.PrivateWitness) ([]byte, domain.ClaimPublicInputs, string, error) {
	public.Commitment = "stub-commitment"
	proof, err := json.Marshal(public)
	if err != nil {
		return nil, domain.ClaimPublicInputs{}, "", err
	}
	return proof, public, b.vkHash, nil
}

func (b *stubProofBackend) Verify(_ context.Context, _ domain.ClaimType, public domain.ClaimPublicInputs, proof []byte, vkHash string) error {
	if vkHash != b.vkHash {
		return usecase.ErrVerifyingKeyMismatch
	}
	expected, err := json.Marshal(public)
	if err != nil {
		return err
	}
	if !bytes.Equal(proof, expected) {
		return fmt.Errorf("proof does not match public inputs")
	}
	return nil
}

func (b *stubProofBackend) VerifyingKey(domain.ClaimType) ([]byte, string, error) {
	return []byte("stub-verifying-key"), b.vkHash, nil
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := chainmem.NewStore()
	keys := soft.NewManager(nil)
	keyRef := domain.KeyRef{Purpose: domain.KeyPurposeChain, KID: "test-chain-key"}
	if _, err := keys.GenerateKey(keyRef); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clock := usecase.Clock(time.Now)

	chain := usecase.NewProofChain(store.ProofRecords(), keys, keyRef, clock)
	engine := usecase.NewTrustEngine(store.Entities(), store.Profiles(), store.Signals(), chain, clock, 25)
	evaluator := usecase.NewEvaluator(store.Entities(), engine, store.Attestations(), store.Competences(), policyopa.NewStatic(nil), chain, clock)

	aggregator := usecase.NewAggregator(store.ProofRecords(), store.Anchors(), store.Entities(), clock, 1024, time.Hour)
	anchorSvc, err := anchor.NewService(anchormem.NewProvider(), store.AnchorAttempts(), 3, time.Millisecond, time.Second, nil)
	if err != nil {
		t.Fatalf("anchor service: %v", err)
	}
	aggregator.WithAnchorService(anchorSvc)

	backend := &stubProofBackend{vkHash: "stub-vk-hash"}
	claims := usecase.NewClaimService(chain, store.ProofRecords(), engine, backend, noncestore.NewMemory(nil), clock, time.Hour)

	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})

	return NewServerWithDeps(cfg, ServerDeps{
		Chain:        chain,
		Engine:       engine,
		Evaluator:    evaluator,
		Aggregator:   aggregator,
		Claims:       claims,
		Attestations: store.Attestations(),
		Competences:  store.Competences(),
		AdminAPIKey:  cfg.AdminAPIKey,
		RateLimiter:  limiter,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, adminKey string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		req.Header.Set("X-Admin-Key", adminKey)
	}
	s.r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v: %s", err, strings.TrimSpace(w.Body.String()))
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var resp errorResponse
	decodeBody(t, w, &resp)
	if resp.Code != expected {
		t.Fatalf("expected code %s, got %s", expected, resp.Code)
	}
}

func createEntity(t *testing.T, s *Server, entityID string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/entities", gin.H{"entity_id": entityID}, "secret")
	if w.Code != http.StatusCreated {
		t.Fatalf("create entity: %d: %s", w.Code, w.Body.String())
	}
}

func recordSignal(t *testing.T, s *Server, entityID string, impact int) profileResponse {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/entities/"+entityID+"/signals",
		gin.H{"kind": "behavioral", "impact": impact}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("record signal: %d: %s", w.Code, w.Body.String())
	}
	var resp profileResponse
	decodeBody(t, w, &resp)
	return resp
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" || resp["mode"] != "custom" {
		t.Fatalf("unexpected health response: %v", resp)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})

	w := doJSON(t, s, http.MethodPost, "/v1/entities", gin.H{"entity_id": "agent-1"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	assertErrorCode(t, w, "UNAUTHORIZED")

	w = doJSON(t, s, http.MethodPost, "/v1/entities", gin.H{"entity_id": "agent-1"}, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", w.Code)
	}
	assertErrorCode(t, w, "UNAUTHORIZED")

	unconfigured := newTestServer(t, config.Config{})
	w = doJSON(t, unconfigured, http.MethodPost, "/v1/entities", gin.H{"entity_id": "agent-1"}, "secret")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no configured key, got %d", w.Code)
	}
	assertErrorCode(t, w, "ADMIN_KEY_REQUIRED")
}

func TestEntityLifecycle(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})

	w := doJSON(t, s, http.MethodPost, "/v1/entities", gin.H{"entity_id": "agent-1"}, "secret")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created profileResponse
	decodeBody(t, w, &created)
	if created.EntityID != "agent-1" || created.Score != 0 || created.BandLabel != "Sandbox" {
		t.Fatalf("unexpected created profile: %+v", created)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/signals",
		gin.H{"kind": "behavioral", "impact": 20}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var after profileResponse
	decodeBody(t, w, &after)
	if after.Score != 20 {
		t.Fatalf("expected score 20, got %d", after.Score)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/profile", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var current profileResponse
	decodeBody(t, w, &current)
	if current.Score != 20 {
		t.Fatalf("expected persisted score 20, got %d", current.Score)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/signals", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var signals struct {
		Signals []signalResponse `json:"signals"`
	}
	decodeBody(t, w, &signals)
	if len(signals.Signals) != 1 || signals.Signals[0].Impact != 20 {
		t.Fatalf("unexpected signals: %+v", signals.Signals)
	}
}

func TestCreateEntityValidation(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})

	w := doJSON(t, s, http.MethodPost, "/v1/entities", gin.H{}, "secret")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing entity_id, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities",
		gin.H{"entity_id": "agent-1", "creation": "teleported"}, "secret")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown creation, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/signals",
		gin.H{"kind": "vibes", "impact": 5}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown signal kind, got %d", w.Code)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/evaluate",
		gin.H{"action": "read", "domain": "docs", "sensitivity": 0, "environment": "staging", "visibility": "attested"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decision decisionResponse
	decodeBody(t, w, &decision)
	if decision.EntityID != "agent-1" || decision.Action != "read" {
		t.Fatalf("unexpected decision identity: %+v", decision)
	}
	if len(decision.Trail) != 5 {
		t.Fatalf("expected a five-ceiling trail, got %d", len(decision.Trail))
	}
	if decision.ChainPosition == 0 {
		t.Fatal("expected the decision to be chained after genesis")
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/evaluate",
		gin.H{"action": "deploy", "sensitivity": 9}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid sensitivity, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/evaluate", gin.H{"sensitivity": 1}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing action, got %d", w.Code)
	}
}

func TestChainEndpoints(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")
	recordSignal(t, s, "agent-1", 5)
	recordSignal(t, s, "agent-1", 5)

	w := doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/chain/verify", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var verification verificationResponse
	decodeBody(t, w, &verification)
	if !verification.Valid || verification.To != 2 {
		t.Fatalf("unexpected verification: %+v", verification)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/records", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var records struct {
		Records []recordResponse `json:"records"`
		Tip     int64            `json:"tip"`
	}
	decodeBody(t, w, &records)
	if records.Tip != 2 || len(records.Records) != 3 {
		t.Fatalf("expected 3 records at tip 2, got %d at %d", len(records.Records), records.Tip)
	}
	if records.Records[0].PrevHash != domain.GenesisHash {
		t.Fatalf("genesis prev hash: %s", records.Records[0].PrevHash)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/chain/verify?from=1&to=9", nil, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for out-of-range verify, got %d", w.Code)
	}
	assertErrorCode(t, w, "INVALID_RANGE")

	w = doJSON(t, s, http.MethodGet, "/v1/entities/ghost/records", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty chain, got %d", w.Code)
	}
}

func TestAnchorAndInclusionEndpoints(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")
	for i := 0; i < 3; i++ {
		recordSignal(t, s, "agent-1", 5)
	}

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/anchors", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var anchorResp anchorResponse
	decodeBody(t, w, &anchorResp)
	if anchorResp.StartPosition != 0 || anchorResp.EndPosition != 3 || anchorResp.LeafCount != 4 {
		t.Fatalf("unexpected anchor range: %+v", anchorResp)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/records/1/inclusion", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var proof inclusionResponse
	decodeBody(t, w, &proof)
	if proof.RootHash != anchorResp.RootHash {
		t.Fatalf("proof root %s does not match anchor root %s", proof.RootHash, anchorResp.RootHash)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/inclusion/verify", verifyInclusionRequest{
		LeafHash:  proof.LeafHash,
		LeafIndex: proof.LeafIndex,
		Siblings:  proof.Siblings,
		RootHash:  proof.RootHash,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var inclusion map[string]bool
	decodeBody(t, w, &inclusion)
	if !inclusion["valid"] {
		t.Fatal("expected inclusion proof to verify")
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/anchors/"+anchorResp.ID+"/anchor", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var anchored anchorResponse
	decodeBody(t, w, &anchored)
	if anchored.ExternalRef == "" || anchored.AnchoredAt == nil {
		t.Fatalf("expected external anchoring, got %+v", anchored)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/anchors", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Anchors []anchorResponse `json:"anchors"`
	}
	decodeBody(t, w, &list)
	if len(list.Anchors) != 1 {
		t.Fatalf("expected one anchor, got %d", len(list.Anchors))
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/anchors", aggregateRequest{}, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an already-covered range, got %d: %s", w.Code, w.Body.String())
	}
	assertErrorCode(t, w, "INVALID_RANGE")
}

func TestClaimEndpoints(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")
	recordSignal(t, s, "agent-1", 40)

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/claims",
		gin.H{"claim_type": "score_at_least", "threshold": 30}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var claim claimResponse
	decodeBody(t, w, &claim)
	if claim.Nonce == "" || claim.Proof == "" {
		t.Fatalf("incomplete claim artifact: %+v", claim)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/claims/verify", claim, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	decodeBody(t, w, &result)
	if !result.Valid {
		t.Fatalf("expected claim to verify, reason: %s", result.Reason)
	}

	// Nonces are single-use: presenting the same artifact twice is a replay.
	w = doJSON(t, s, http.MethodPost, "/v1/claims/verify", claim, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	decodeBody(t, w, &result)
	if result.Valid || result.Reason != domain.ClaimReasonReplay {
		t.Fatalf("expected replay refusal, got %+v", result)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/claims",
		gin.H{"claim_type": "score_of_destiny"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown claim type, got %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/claims/keys", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var keys struct {
		Keys map[string]struct {
			VK     string `json:"vk"`
			VKHash string `json:"vk_hash"`
		} `json:"keys"`
	}
	decodeBody(t, w, &keys)
	if len(keys.Keys) != len(domain.ClaimTypes) {
		t.Fatalf("expected a key per claim type, got %d", len(keys.Keys))
	}
}

func TestRevokeBlocksSignals(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/revoke", nil, "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/signals",
		gin.H{"kind": "behavioral", "impact": 5}, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	assertErrorCode(t, w, "ENTITY_REVOKED")
}

func TestTombstoneRecord(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})
	createEntity(t, s, "agent-1")
	recordSignal(t, s, "agent-1", 5)

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/records/1/tombstone",
		gin.H{"reason": "mis-attributed signal"}, "secret")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var record recordResponse
	decodeBody(t, w, &record)
	if record.Kind != string(domain.RecordTombstone) || record.Position != 2 {
		t.Fatalf("unexpected tombstone record: %+v", record)
	}

	// The target stays in place and the chain remains intact.
	w = doJSON(t, s, http.MethodGet, "/v1/entities/agent-1/chain/verify", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var verification verificationResponse
	decodeBody(t, w, &verification)
	if !verification.Valid || verification.To != 2 {
		t.Fatalf("expected valid chain through the tombstone, got %+v", verification)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/records/9/tombstone", nil, "secret")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing target, got %d", w.Code)
	}
	assertErrorCode(t, w, "NOT_FOUND")

	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/records/1/tombstone", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", w.Code)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	s := newTestServer(t, config.Config{
		AdminAPIKey:            "secret",
		RateLimitRequests:      2,
		RateLimitWindowSeconds: 60,
	})
	createEntity(t, s, "agent-1")

	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/signals",
			gin.H{"kind": "behavioral", "impact": 5}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d inside the limit: %d", i, w.Code)
		}
		if w.Header().Get("RateLimit-Limit") != "2" {
			t.Fatalf("missing rate limit headers on request %d", i)
		}
	}

	w := doJSON(t, s, http.MethodPost, "/v1/entities/agent-1/signals",
		gin.H{"kind": "behavioral", "impact": 5}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	assertErrorCode(t, w, "RATE_LIMITED")
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Another entity has its own budget.
	createEntity(t, s, "agent-2")
	w = doJSON(t, s, http.MethodPost, "/v1/entities/agent-2/signals",
		gin.H{"kind": "behavioral", "impact": 5}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for other entity, got %d", w.Code)
	}
}

func TestNotFoundMapping(t *testing.T) {
	s := newTestServer(t, config.Config{AdminAPIKey: "secret"})

	w := doJSON(t, s, http.MethodGet, "/v1/entities/ghost/profile", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	assertErrorCode(t, w, "NOT_FOUND")

	w = doJSON(t, s, http.MethodGet, "/v1/nope", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", w.Code)
	}
	assertErrorCode(t, w, "NOT_FOUND")
}

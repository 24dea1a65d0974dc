package http

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vorion/internal/domain"
	"vorion/internal/usecase"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}

// writeError maps domain sentinels onto HTTP statuses. Anything unmapped
// is a 500; handlers never leak raw error strings for those.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, domain.ErrEntityRevoked):
		writeErrorCode(c, http.StatusForbidden, "ENTITY_REVOKED", "entity is revoked")
	case errors.Is(err, domain.ErrChainBlocked):
		writeErrorCode(c, http.StatusConflict, "CHAIN_BLOCKED", "chain is write-blocked pending reconciliation")
	case errors.Is(err, domain.ErrConcurrentAppend):
		writeErrorCode(c, http.StatusConflict, "CONCURRENT_APPEND", "concurrent append conflict, retry")
	case errors.Is(err, domain.ErrChainIntegrity):
		writeErrorCode(c, http.StatusConflict, "CHAIN_INTEGRITY", "chain integrity violation")
	case errors.Is(err, domain.ErrInvalidChainState):
		writeErrorCode(c, http.StatusConflict, "CHAIN_INVALID", "chain state invalid for proving")
	case errors.Is(err, domain.ErrInvalidRange):
		writeErrorCode(c, http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error())
	case errors.Is(err, domain.ErrReplayDetected):
		writeErrorCode(c, http.StatusConflict, "REPLAY_DETECTED", "nonce already consumed")
	case errors.Is(err, domain.ErrProofExpired):
		writeErrorCode(c, http.StatusGone, "PROOF_EXPIRED", "proof expired")
	case errors.Is(err, domain.ErrSigningUnavailable):
		writeErrorCode(c, http.StatusServiceUnavailable, "SIGNING_UNAVAILABLE", "signing key unavailable")
	case errors.Is(err, domain.ErrAnchorUnreachable):
		writeErrorCode(c, http.StatusServiceUnavailable, "ANCHOR_UNREACHABLE", "anchor destination unreachable")
	default:
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "ADMIN_KEY_REQUIRED", "admin API key not configured")
		return false
	}
	provided := c.GetHeader("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

type profileResponse struct {
	EntityID       string         `json:"entity_id"`
	Score          int            `json:"score"`
	Band           int            `json:"band"`
	BandLabel      string         `json:"band_label"`
	Dimensions     map[string]int `json:"dimensions"`
	DecayMilestone int            `json:"decay_milestone"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ChainPosition  int64          `json:"chain_position"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func toProfileResponse(p *domain.TrustProfile) profileResponse {
	dims := make(map[string]int, len(p.Dimensions))
	for d, v := range p.Dimensions {
		dims[string(d)] = v
	}
	return profileResponse{
		EntityID:       p.EntityID,
		Score:          p.Score,
		Band:           int(p.Band),
		BandLabel:      p.Band.String(),
		Dimensions:     dims,
		DecayMilestone: p.DecayMilestone,
		LastActivityAt: p.LastActivityAt,
		ChainPosition:  p.ChainPosition,
		UpdatedAt:      p.UpdatedAt,
	}
}

type createEntityRequest struct {
	EntityID string `json:"entity_id"`
	Creation string `json:"creation"`
}

func (s *Server) handleCreateEntity(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if !s.enforceRateLimit(c, "entities") {
		return
	}
	var req createEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.EntityID == "" {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "entity_id is required")
		return
	}
	creation := domain.CreationType(req.Creation)
	if req.Creation == "" {
		creation = domain.CreationFresh
	}
	if _, ok := domain.ProvenanceModifiers[creation]; !ok {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown creation type "+req.Creation)
		return
	}
	profile, err := s.engine.InitProfile(c.Request.Context(), req.EntityID, creation)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProfileResponse(profile))
}

type recordSignalRequest struct {
	Kind   string  `json:"kind"`
	Impact int     `json:"impact"`
	Weight float64 `json:"weight"`
	Source string  `json:"source"`
}

func (s *Server) handleRecordSignal(c *gin.Context) {
	if !s.enforceRateLimit(c, "signals") {
		return
	}
	var req recordSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	kind := domain.SignalKind(req.Kind)
	if !kind.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown signal kind "+req.Kind)
		return
	}
	profile, err := s.engine.RecordSignal(c.Request.Context(), c.Param("id"), domain.TrustSignal{
		Kind:   kind,
		Impact: req.Impact,
		Weight: req.Weight,
		Source: req.Source,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

func (s *Server) handleApplyDecay(c *gin.Context) {
	profile, err := s.engine.ApplyDecay(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

func (s *Server) handleGetProfile(c *gin.Context) {
	profile, err := s.engine.CurrentProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

type signalResponse struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Impact     int       `json:"impact"`
	Weight     float64   `json:"weight"`
	Source     string    `json:"source,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s *Server) handleListSignals(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	signals, err := s.engine.Signals(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]signalResponse, 0, len(signals))
	for _, sig := range signals {
		out = append(out, signalResponse{
			ID:         sig.ID,
			Kind:       string(sig.Kind),
			Impact:     sig.Impact,
			Weight:     sig.EffectiveWeight(),
			Source:     sig.Source,
			ObservedAt: sig.ObservedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"signals": out})
}

type evaluateRequest struct {
	Action                string            `json:"action"`
	Domain                string            `json:"domain"`
	Sensitivity           int               `json:"sensitivity"`
	RequiresExternalTrust bool              `json:"requires_external_trust"`
	Environment           string            `json:"environment"`
	Visibility            string            `json:"visibility"`
	Attributes            map[string]string `json:"attributes"`
}

type ceilingResponse struct {
	Source string `json:"source"`
	Tier   int    `json:"tier"`
	Detail string `json:"detail,omitempty"`
}

type decisionResponse struct {
	EntityID         string            `json:"entity_id"`
	Action           string            `json:"action"`
	Domain           string            `json:"domain"`
	Permitted        bool              `json:"permitted"`
	EffectiveCeiling int               `json:"effective_ceiling"`
	LimitingFactor   string            `json:"limiting_factor"`
	Trail            []ceilingResponse `json:"trail"`
	Reason           string            `json:"reason,omitempty"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
	ChainPosition    int64             `json:"chain_position"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	if !s.enforceRateLimit(c, "evaluate") {
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "action is required")
		return
	}
	sensitivity := domain.Tier(req.Sensitivity)
	if !sensitivity.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "sensitivity must be between 0 and 5")
		return
	}
	decision, err := s.evaluator.Evaluate(c.Request.Context(), c.Param("id"),
		domain.Intent{
			Action:                req.Action,
			Domain:                req.Domain,
			Sensitivity:           sensitivity,
			RequiresExternalTrust: req.RequiresExternalTrust,
		},
		domain.EvalContext{
			Environment: req.Environment,
			Visibility:  domain.Visibility(req.Visibility),
			Attributes:  req.Attributes,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	trail := make([]ceilingResponse, 0, len(decision.Trail))
	for _, reading := range decision.Trail {
		trail = append(trail, ceilingResponse{
			Source: string(reading.Source),
			Tier:   int(reading.Tier),
			Detail: reading.Detail,
		})
	}
	c.JSON(http.StatusOK, decisionResponse{
		EntityID:         decision.EntityID,
		Action:           decision.Intent.Action,
		Domain:           decision.Intent.Domain,
		Permitted:        decision.Permitted,
		EffectiveCeiling: int(decision.EffectiveCeiling),
		LimitingFactor:   string(decision.LimitingFactor),
		Trail:            trail,
		Reason:           decision.Reason,
		EvaluatedAt:      decision.EvaluatedAt,
		ChainPosition:    decision.ChainPosition,
	})
}

type verificationResponse struct {
	EntityID string `json:"entity_id"`
	From     int64  `json:"from"`
	To       int64  `json:"to"`
	Valid    bool   `json:"valid"`
	BrokenAt *int64 `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func toVerificationResponse(v domain.ChainVerification) verificationResponse {
	return verificationResponse{
		EntityID: v.EntityID,
		From:     v.From,
		To:       v.To,
		Valid:    v.Valid,
		BrokenAt: v.BrokenAt,
		Reason:   v.Reason,
	}
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	from, ok := optionalInt64Query(c, "from")
	if !ok {
		return
	}
	to, ok := optionalInt64Query(c, "to")
	if !ok {
		return
	}
	result, err := s.chain.Verify(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(result))
}

func (s *Server) handleReconcile(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	result, err := s.chain.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(result))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevoke(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req revokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}
	if err := s.engine.Revoke(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": c.Param("id"), "revoked": true})
}

type tombstoneRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleTombstone(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	position, err := strconv.ParseInt(c.Param("pos"), 10, 64)
	if err != nil || position < 0 {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid record position")
		return
	}
	var req tombstoneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}
	record, err := s.chain.Tombstone(c.Request.Context(), c.Param("id"), position, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRecordResponse(record))
}

type recordResponse struct {
	EntityID    string          `json:"entity_id"`
	Position    int64           `json:"position"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	RecordHash  string          `json:"record_hash"`
	Signature   string          `json:"signature"`
	SignerKID   string          `json:"signer_kid"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

func toRecordResponse(r domain.ProofRecord) recordResponse {
	return recordResponse{
		EntityID:    r.EntityID,
		Position:    r.Position,
		Kind:        string(r.Kind),
		Payload:     r.Payload,
		PayloadHash: r.PayloadHash,
		PrevHash:    r.PrevHash,
		RecordHash:  r.RecordHash,
		Signature:   base64.StdEncoding.EncodeToString(r.Signature),
		SignerKID:   r.SignerKID,
		RecordedAt:  r.RecordedAt,
	}
}

func (s *Server) handleListRecords(c *gin.Context) {
	tip, err := s.chain.Tip(c.Request.Context(), c.Param("id"))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(c, err)
		return
	}
	if tip == nil {
		c.JSON(http.StatusOK, gin.H{"records": []recordResponse{}})
		return
	}
	from := int64Query(c, "from", 0)
	to := int64Query(c, "to", tip.Position)
	records, err := s.chain.Records(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"records": out, "tip": tip.Position})
}

type aggregateRequest struct {
	From *int64 `json:"from"`
	To   *int64 `json:"to"`
}

type anchorResponse struct {
	ID            string     `json:"id"`
	EntityID      string     `json:"entity_id"`
	StartPosition int64      `json:"start_position"`
	EndPosition   int64      `json:"end_position"`
	RootHash      string     `json:"root_hash"`
	TreeDepth     int        `json:"tree_depth"`
	LeafCount     int        `json:"leaf_count"`
	ExternalRef   string     `json:"external_ref,omitempty"`
	AnchoredAt    *time.Time `json:"anchored_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toAnchorResponse(a domain.MerkleAnchor) anchorResponse {
	return anchorResponse{
		ID:            a.ID,
		EntityID:      a.EntityID,
		StartPosition: a.StartPosition,
		EndPosition:   a.EndPosition,
		RootHash:      hex.EncodeToString(a.RootHash),
		TreeDepth:     a.TreeDepth,
		LeafCount:     a.LeafCount,
		ExternalRef:   a.ExternalRef,
		AnchoredAt:    a.AnchoredAt,
		CreatedAt:     a.CreatedAt,
	}
}

func (s *Server) handleAggregate(c *gin.Context) {
	if !s.enforceRateLimit(c, "anchors") {
		return
	}
	var req aggregateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}
	anchor, err := s.aggregator.Aggregate(c.Request.Context(), c.Param("id"), req.From, req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAnchorResponse(anchor))
}

func (s *Server) handleListAnchors(c *gin.Context) {
	anchors, err := s.aggregator.Anchors(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]anchorResponse, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, toAnchorResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"anchors": out})
}

func (s *Server) handleAnchorExternally(c *gin.Context) {
	anchor, err := s.aggregator.AnchorExternally(c.Request.Context(), c.Param("id"), c.Param("aid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAnchorResponse(anchor))
}

type inclusionResponse struct {
	EntityID  string   `json:"entity_id"`
	Position  int64    `json:"position"`
	LeafIndex int      `json:"leaf_index"`
	LeafHash  string   `json:"leaf_hash"`
	Siblings  []string `json:"siblings"`
	RootHash  string   `json:"root_hash"`
	TreeDepth int      `json:"tree_depth"`
	LeafCount int      `json:"leaf_count"`
}

func (s *Server) handleProveInclusion(c *gin.Context) {
	position, err := strconv.ParseInt(c.Param("pos"), 10, 64)
	if err != nil || position < 0 {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid record position")
		return
	}
	proof, err := s.aggregator.ProveInclusion(c.Request.Context(), c.Param("id"), position)
	if err != nil {
		writeError(c, err)
		return
	}
	siblings := make([]string, 0, len(proof.Siblings))
	for _, sib := range proof.Siblings {
		siblings = append(siblings, hex.EncodeToString(sib))
	}
	c.JSON(http.StatusOK, inclusionResponse{
		EntityID:  proof.EntityID,
		Position:  proof.Position,
		LeafIndex: proof.LeafIndex,
		LeafHash:  hex.EncodeToString(proof.LeafHash),
		Siblings:  siblings,
		RootHash:  hex.EncodeToString(proof.RootHash),
		TreeDepth: proof.TreeDepth,
		LeafCount: proof.LeafCount,
	})
}

type verifyInclusionRequest struct {
	LeafHash  string   `json:"leaf_hash"`
	LeafIndex int      `json:"leaf_index"`
	Siblings  []string `json:"siblings"`
	RootHash  string   `json:"root_hash"`
}

func (s *Server) handleVerifyInclusion(c *gin.Context) {
	var req verifyInclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	leaf, err := hex.DecodeString(req.LeafHash)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "leaf_hash is not valid hex")
		return
	}
	root, err := hex.DecodeString(req.RootHash)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "root_hash is not valid hex")
		return
	}
	siblings := make([][]byte, 0, len(req.Siblings))
	for _, raw := range req.Siblings {
		sib, err := hex.DecodeString(raw)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "sibling hash is not valid hex")
			return
		}
		siblings = append(siblings, sib)
	}
	valid, err := usecase.VerifyInclusion(domain.MerkleInclusionProof{
		LeafHash:  leaf,
		LeafIndex: req.LeafIndex,
		Siblings:  siblings,
		RootHash:  root,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

type generateClaimRequest struct {
	ClaimType  string `json:"claim_type"`
	Threshold  int    `json:"threshold"`
	Low        int    `json:"low"`
	High       int    `json:"high"`
	MinBand    int    `json:"min_band"`
	AsOf       string `json:"as_of"`
	Since      string `json:"since"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type claimResponse struct {
	ID        string                   `json:"id"`
	ClaimType string                   `json:"claim_type"`
	Public    domain.ClaimPublicInputs `json:"public"`
	Proof     string                   `json:"proof"`
	VKHash    string                   `json:"vk_hash"`
	Nonce     string                   `json:"nonce"`
	IssuedAt  time.Time                `json:"issued_at"`
	ExpiresAt time.Time                `json:"expires_at"`
}

func (s *Server) handleGenerateClaim(c *gin.Context) {
	if !s.enforceRateLimit(c, "claims") {
		return
	}
	var req generateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	claimType := domain.ClaimType(req.ClaimType)
	if !claimType.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown claim type "+req.ClaimType)
		return
	}
	params := domain.ClaimParams{
		Threshold: req.Threshold,
		Low:       req.Low,
		High:      req.High,
		MinBand:   domain.TrustBand(req.MinBand),
	}
	if req.AsOf != "" {
		asOf, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "as_of must be RFC3339")
			return
		}
		params.AsOf = asOf
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "since must be RFC3339")
			return
		}
		params.Since = since
	}
	if req.TTLSeconds > 0 {
		params.TTL = time.Duration(req.TTLSeconds) * time.Second
	}
	artifact, err := s.claims.GenerateProof(c.Request.Context(), c.Param("id"), claimType, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, claimResponse{
		ID:        artifact.ID,
		ClaimType: string(artifact.ClaimType),
		Public:    artifact.Public,
		Proof:     base64.StdEncoding.EncodeToString(artifact.Proof),
		VKHash:    artifact.VKHash,
		Nonce:     artifact.Nonce,
		IssuedAt:  artifact.IssuedAt,
		ExpiresAt: artifact.ExpiresAt,
	})
}

type verifyClaimRequest struct {
	ID        string                   `json:"id"`
	ClaimType string                   `json:"claim_type"`
	Public    domain.ClaimPublicInputs `json:"public"`
	Proof     string                   `json:"proof"`
	VKHash    string                   `json:"vk_hash"`
	Nonce     string                   `json:"nonce"`
	IssuedAt  time.Time                `json:"issued_at"`
	ExpiresAt time.Time                `json:"expires_at"`
}

func (s *Server) handleVerifyClaim(c *gin.Context) {
	if !s.enforceRateLimit(c, "claims_verify") {
		return
	}
	var req verifyClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "proof is not valid base64")
		return
	}
	result, err := s.claims.VerifyProof(c.Request.Context(), domain.ClaimArtifact{
		ID:        req.ID,
		ClaimType: domain.ClaimType(req.ClaimType),
		Public:    req.Public,
		Proof:     proof,
		VKHash:    req.VKHash,
		Nonce:     req.Nonce,
		IssuedAt:  req.IssuedAt,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": result.Valid, "reason": result.Reason})
}

func (s *Server) handleClaimKeys(c *gin.Context) {
	keys := make(map[string]gin.H, len(domain.ClaimTypes))
	for _, claimType := range domain.ClaimTypes {
		vk, vkHash, err := s.claims.VerifyingKey(claimType)
		if err != nil {
			writeError(c, err)
			return
		}
		keys[string(claimType)] = gin.H{
			"vk":      base64.StdEncoding.EncodeToString(vk),
			"vk_hash": vkHash,
		}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

type putAttestationRequest struct {
	ID           string   `json:"id"`
	Issuer       string   `json:"issuer"`
	Tier         int      `json:"tier"`
	Domains      []string `json:"domains"`
	IssuedAt     string   `json:"issued_at"`
	ExpiresAt    string   `json:"expires_at"`
	EvidenceRefs []string `json:"evidence_refs"`
}

func (s *Server) handlePutAttestation(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req putAttestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	tier := domain.Tier(req.Tier)
	if !tier.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "tier must be between 0 and 5")
		return
	}
	if req.Issuer == "" {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "issuer is required")
		return
	}
	att := domain.Attestation{
		ID:           req.ID,
		EntityID:     c.Param("id"),
		Issuer:       req.Issuer,
		Tier:         tier,
		Domains:      req.Domains,
		EvidenceRefs: req.EvidenceRefs,
		IssuedAt:     time.Now().UTC(),
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if req.IssuedAt != "" {
		issued, err := time.Parse(time.RFC3339, req.IssuedAt)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "issued_at must be RFC3339")
			return
		}
		att.IssuedAt = issued
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "expires_at must be RFC3339")
			return
		}
		att.ExpiresAt = expires
	}
	if err := s.attestations.Put(c.Request.Context(), att); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": att.ID})
}

func (s *Server) handleListAttestations(c *gin.Context) {
	attestations, err := s.attestations.ListByEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(attestations))
	for _, att := range attestations {
		entry := gin.H{
			"id":        att.ID,
			"issuer":    att.Issuer,
			"tier":      int(att.Tier),
			"domains":   att.Domains,
			"issued_at": att.IssuedAt,
		}
		if !att.ExpiresAt.IsZero() {
			entry["expires_at"] = att.ExpiresAt
		}
		if len(att.EvidenceRefs) > 0 {
			entry["evidence_refs"] = att.EvidenceRefs
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"attestations": out})
}

type putCompetenceRequest struct {
	Domain string `json:"domain"`
	Level  int    `json:"level"`
}

func (s *Server) handlePutCompetence(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req putCompetenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Domain == "" {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "domain is required")
		return
	}
	level := domain.Tier(req.Level)
	if !level.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "level must be between 0 and 5")
		return
	}
	comp := domain.Competence{
		EntityID:   c.Param("id"),
		Domain:     req.Domain,
		Level:      level,
		AssessedAt: time.Now().UTC(),
	}
	if err := s.competences.Put(c.Request.Context(), comp); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entity_id": comp.EntityID, "domain": comp.Domain, "level": int(comp.Level)})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func int64Query(c *gin.Context, name string, def int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func optionalInt64Query(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", name+" must be a non-negative integer")
		return nil, false
	}
	return &v, true
}

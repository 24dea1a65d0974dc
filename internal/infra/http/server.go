package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"vorion/internal/config"
	"vorion/internal/domain"
	"vorion/internal/infra/anchor"
	"vorion/internal/infra/anchor/httpledger"
	"vorion/internal/infra/anchor/memory"
	"vorion/internal/infra/cachemem"
	"vorion/internal/infra/chainmem"
	"vorion/internal/infra/db"
	"vorion/internal/infra/keys/soft"
	"vorion/internal/infra/noncestore"
	"vorion/internal/infra/policyopa"
	"vorion/internal/infra/ratelimit"
	"vorion/internal/infra/zk"
	"vorion/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	chain        *usecase.ProofChain
	engine       *usecase.TrustEngine
	evaluator    *usecase.Evaluator
	aggregator   *usecase.Aggregator
	claims       *usecase.ClaimService
	attestations usecase.AttestationRepository
	competences  usecase.CompetenceRepository

	adminAPIKey string
	dbMode      string
	initErr     error

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

// NewServer wires the full dependency graph from config: postgres when a
// DSN is set, the in-memory store otherwise, an OPA bundle when
// configured, and the Groth16 backend for claims.
func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r}
	s.initDeps(store)
	s.routes()
	return s
}

type ServerDeps struct {
	Chain        *usecase.ProofChain
	Engine       *usecase.TrustEngine
	Evaluator    *usecase.Evaluator
	Aggregator   *usecase.Aggregator
	Claims       *usecase.ClaimService
	Attestations usecase.AttestationRepository
	Competences  usecase.CompetenceRepository
	AdminAPIKey  string
	RateLimiter  domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:          cfg,
		r:            r,
		chain:        deps.Chain,
		engine:       deps.Engine,
		evaluator:    deps.Evaluator,
		aggregator:   deps.Aggregator,
		claims:       deps.Claims,
		attestations: deps.Attestations,
		competences:  deps.Competences,
		adminAPIKey:  deps.AdminAPIKey,
		dbMode:       "custom",
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps(store *db.Store) {
	s.adminAPIKey = s.cfg.AdminAPIKey
	clock := usecase.Clock(time.Now)

	var (
		entities     usecase.EntityRepository
		records      usecase.ProofChainRepository
		profiles     usecase.ProfileRepository
		signals      usecase.SignalRepository
		anchors      usecase.AnchorRepository
		attempts     domain.AnchorAttemptRepository
		attestations usecase.AttestationRepository
		competences  usecase.CompetenceRepository
	)
	if store != nil {
		s.dbMode = "db"
		entities = store.Entities()
		records = store.ProofRecords()
		profiles = store.Profiles()
		signals = store.Signals()
		anchors = store.Anchors()
		attempts = store.AnchorAttempts()
		attestations = store.Attestations()
		competences = store.Competences()
	} else {
		s.dbMode = "no-db"
		mem := chainmem.NewStore()
		entities = mem.Entities()
		records = mem.ProofRecords()
		profiles = mem.Profiles()
		signals = mem.Signals()
		anchors = mem.Anchors()
		attempts = mem.AnchorAttempts()
		attestations = mem.Attestations()
		competences = mem.Competences()
	}

	keys := soft.NewManagerFromConfig(s.cfg)
	keyRef := domain.KeyRef{Purpose: domain.KeyPurposeChain, KID: s.cfg.ChainKeyID}
	if s.cfg.ChainPrivateKeyBase64 == "" && s.cfg.ChainPrivateKeySeedHex == "" {
		if _, err := keys.GenerateKey(keyRef); err != nil {
			s.initErr = err
			return
		}
		log.Printf("no chain key configured, generated ephemeral key %s", keyRef.KID)
	}

	s.chain = usecase.NewProofChain(records, keys, keyRef, clock).
		WithVerificationCache(cachemem.New())
	s.engine = usecase.NewTrustEngine(entities, profiles, signals, s.chain, clock, s.cfg.RecoveryBonusCap)

	var policy usecase.PolicyEngine
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath, s.cfg.PolicyBundleID)
		if err != nil {
			s.initErr = err
			return
		}
		policy = engine
	} else {
		policy = policyopa.NewStatic(nil)
	}
	s.evaluator = usecase.NewEvaluator(entities, s.engine, attestations, competences, policy, s.chain, clock)
	s.attestations = attestations
	s.competences = competences

	s.aggregator = usecase.NewAggregator(records, anchors, entities, clock, s.cfg.AggregateMaxRecords, s.cfg.AggregateInterval())
	var provider anchor.Provider
	if s.cfg.AnchorURL != "" {
		ledger, err := httpledger.NewProvider(s.cfg.AnchorURL, nil)
		if err != nil {
			s.initErr = err
			return
		}
		provider = ledger
	} else {
		provider = memory.NewProvider()
	}
	anchorSvc, err := anchor.NewService(provider, attempts, s.cfg.AnchorMaxRetries, s.cfg.AnchorBackoff(), s.cfg.AnchorTimeout(), nil)
	if err != nil {
		s.initErr = err
		return
	}
	s.aggregator.WithAnchorService(anchorSvc)

	backend, err := zk.NewBackend()
	if err != nil {
		s.initErr = err
		return
	}
	s.claims = usecase.NewClaimService(s.chain, records, s.engine, backend, noncestore.NewMemory(nil), clock, s.cfg.ClaimTTL())

	s.initRateLimit(nil)
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     s.cfg.RedisAddr,
				Password: s.cfg.RedisPassword,
				DB:       s.cfg.RedisDB,
			})
			if limiter, err := ratelimit.NewRedisLimiter(client, nil); err == nil {
				s.rateLimiter = limiter
			} else {
				log.Printf("redis rate limiter unavailable, falling back to memory: %v", err)
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/entities", s.handleCreateEntity)
		v1.POST("/entities/:id/signals", s.handleRecordSignal)
		v1.POST("/entities/:id/decay", s.handleApplyDecay)
		v1.POST("/entities/:id/evaluate", s.handleEvaluate)
		v1.GET("/entities/:id/profile", s.handleGetProfile)
		v1.GET("/entities/:id/signals", s.handleListSignals)
		v1.GET("/entities/:id/chain/verify", s.handleVerifyChain)
		v1.GET("/entities/:id/records", s.handleListRecords)
		v1.GET("/entities/:id/records/:pos/inclusion", s.handleProveInclusion)
		v1.POST("/entities/:id/anchors", s.handleAggregate)
		v1.GET("/entities/:id/anchors", s.handleListAnchors)
		v1.POST("/entities/:id/anchors/:aid/anchor", s.handleAnchorExternally)
		v1.POST("/entities/:id/claims", s.handleGenerateClaim)
		v1.POST("/entities/:id/attestations", s.handlePutAttestation)
		v1.GET("/entities/:id/attestations", s.handleListAttestations)
		v1.POST("/entities/:id/competences", s.handlePutCompetence)

		v1.POST("/entities/:id/revoke", s.handleRevoke)
		v1.POST("/entities/:id/records/:pos/tombstone", s.handleTombstone)
		v1.POST("/entities/:id/chain/reconcile", s.handleReconcile)

		v1.POST("/inclusion/verify", s.handleVerifyInclusion)
		v1.POST("/claims/verify", s.handleVerifyClaim)
		v1.GET("/claims/keys", s.handleClaimKeys)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "unknown route")
	})
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	log.Printf("trustd listening on %s (%s)", s.cfg.HTTPAddr, s.dbMode)
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Aggregator exposes the wired aggregator so main can start its loops.
func (s *Server) Aggregator() *usecase.Aggregator {
	return s.aggregator
}

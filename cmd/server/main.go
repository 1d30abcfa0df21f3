package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jokelbaf/proxyko/pkg/accesslog"
	"github.com/jokelbaf/proxyko/pkg/agenthub"
	"github.com/jokelbaf/proxyko/pkg/auth"
	"github.com/jokelbaf/proxyko/pkg/heartbeat"
	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/metrics"
	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/policyeval"
	"github.com/jokelbaf/proxyko/pkg/ratelimit"
	"github.com/jokelbaf/proxyko/pkg/store"
	"github.com/jokelbaf/proxyko/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	Configs   *store.ConfigStore
	Rules     *store.RuleStore
	Devices   *store.DeviceStore
	Status    *store.StatusStore
	Access    *store.AccessStore
	Cache     store.Cache
	Hub       *agenthub.Hub
	Heartbeat *heartbeat.Monitor
	Recorder  *accesslog.Recorder
	Evaluator *policyeval.Evaluator
	Metrics   *metrics.Registry

	RateLimiter        ratelimit.Limiter
	RateLimitEnabled   bool
	RateLimitPerMinute int

	AdminToken          string
	InternalAPIKey      string
	TrustedProxyCIDRs   []*net.IPNet
	MaxRequestBodyBytes int64
	WSOriginPatterns    []string
	DeviceCacheTTL      time.Duration
}

// hubState feeds resync pushes from the live stores.
type hubState struct {
	status *store.StatusStore
	rules  *store.RuleStore
}

func (h hubState) GlobalStatus(ctx context.Context) (models.GlobalStatus, error) {
	return h.status.Get(ctx)
}

func (h hubState) Rules(ctx context.Context) ([]models.ProxyRule, error) {
	return h.rules.List(ctx)
}

type serverDBCloser interface {
	store.DB
	Close()
}

type serverInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type serverOpenDBFunc func(ctx context.Context) (serverDBCloser, error)
type serverOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type serverListenFunc func(server *http.Server) error
type serverStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (serverDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.Recorder.Run(context.Background())
		go s.agentGaugeLoop(context.Background())
	}
)

func main() {
	if err := runServer(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("server: %v", err)
	}
}

func runServer(
	initTelemetry serverInitTelemetryFunc,
	openDB serverOpenDBFunc,
	openRedis serverOpenRedisFunc,
	listen serverListenFunc,
	startLoops serverStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "proxyko")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	rateLimitWindow := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	heartbeatWindow := envDurationSec("AGENT_HEARTBEAT_WINDOW_SEC", 30)
	deviceCacheTTL := envDurationSec("DEVICE_CACHE_TTL_SEC", 60)
	trustedProxyCIDRs := parseCIDRs(env("TRUSTED_PROXY_CIDRS", ""))
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	monitor := heartbeat.NewMonitor(heartbeatWindow)
	registry := metrics.NewRegistry()
	accessStore := &store.AccessStore{DB: pool}

	var exporter accesslog.Exporter
	if brokers := strings.TrimSpace(env("KAFKA_BROKERS", "")); brokers != "" {
		kafkaExporter, err := accesslog.NewKafkaExporter(accesslog.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_ACCESS_TOPIC", "proxyko.access"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer kafkaExporter.Close()
		exporter = kafkaExporter
	}
	recorder := accesslog.NewRecorder(accessStore, exporter, envInt("ACCESS_LOG_BUFFER", 256), func() {
		registry.Inc("access_records_dropped")
	})

	s := &Server{
		Configs:             &store.ConfigStore{DB: pool},
		Rules:               &store.RuleStore{DB: pool},
		Devices:             &store.DeviceStore{DB: pool},
		Status:              &store.StatusStore{DB: pool},
		Access:              accessStore,
		Cache:               cache,
		Heartbeat:           monitor,
		Recorder:            recorder,
		Evaluator:           policyeval.New(policyeval.Templates{}),
		Metrics:             registry,
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		AdminToken:          env("ADMIN_TOKEN", ""),
		InternalAPIKey:      env("INTERNAL_API_KEY", ""),
		TrustedProxyCIDRs:   trustedProxyCIDRs,
		MaxRequestBodyBytes: maxRequestBodyBytes,
		WSOriginPatterns:    splitCSV(env("WS_ALLOWED_ORIGINS", "")),
		DeviceCacheTTL:      deviceCacheTTL,
	}
	s.Hub = agenthub.NewHub(s.InternalAPIKey, hubState{status: s.Status, rules: s.Rules}, monitor)
	s.Hub.OnUnknownAction = func(action string) {
		registry.Inc("agent_unknown_action")
		log.Printf("agent sent unknown action %q", action)
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("proxyko"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Get("/pac", s.handlePAC)
	r.Get("/pac/{token}", s.handlePAC)

	adminRouter := chi.NewRouter()
	adminRouter.Use(auth.BearerMiddleware(s.AdminToken))
	adminRouter.Use(s.rateLimitMiddleware)
	adminRouter.Get("/metrics", s.Metrics.Handler())
	adminRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	adminRouter.Get("/configs", s.listConfigs)
	adminRouter.Post("/configs", s.createConfig)
	adminRouter.Get("/configs/{id}", s.getConfig)
	adminRouter.Put("/configs/{id}", s.updateConfig)
	adminRouter.Delete("/configs/{id}", s.deleteConfig)
	adminRouter.Post("/configs/{id}/move", s.moveConfig)
	adminRouter.Post("/configs/{id}/active", s.setConfigActive)
	adminRouter.Get("/rules", s.listRules)
	adminRouter.Post("/rules", s.createRule)
	adminRouter.Get("/rules/export", s.exportRules)
	adminRouter.Post("/rules/import", s.importRules)
	adminRouter.Get("/rules/{id}", s.getRule)
	adminRouter.Put("/rules/{id}", s.updateRule)
	adminRouter.Delete("/rules/{id}", s.deleteRule)
	adminRouter.Post("/rules/{id}/move", s.moveRule)
	adminRouter.Post("/rules/{id}/enabled", s.setRuleEnabled)
	adminRouter.Get("/devices", s.listDevices)
	adminRouter.Post("/devices", s.createDevice)
	adminRouter.Get("/devices/{id}", s.getDevice)
	adminRouter.Put("/devices/{id}", s.updateDevice)
	adminRouter.Delete("/devices/{id}", s.deleteDevice)
	adminRouter.Get("/status", s.getStatus)
	adminRouter.Put("/status", s.updateStatus)
	adminRouter.Get("/agents", s.getAgents)
	adminRouter.Get("/access", s.listAccessRecords)
	r.Mount("/api", adminRouter)

	internalRouter := chi.NewRouter()
	internalRouter.Use(auth.InternalKeyMiddleware(s.InternalAPIKey))
	internalRouter.Get("/rules", s.internalRules)
	internalRouter.Get("/status", s.internalStatus)
	r.Mount("/api/internal/proxy", internalRouter)
	// Websocket auth happens in-protocol via login_req.
	r.Get("/api/internal/proxy/ws", s.handleAgentWS)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("proxyko listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func (s *Server) agentGaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(envDurationSec("AGENT_GAUGE_INTERVAL_SEC", 10))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Metrics.SetGauge("agent_connections", float64(s.Hub.Count()))
			healthy := 0.0
			if s.Heartbeat.Healthy(time.Now()) {
				healthy = 1.0
			}
			s.Metrics.SetGauge("agent_heartbeat_healthy", healthy)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.RateLimiter.Allow(s.clientIP(r), s.RateLimitPerMinute)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.Metrics.Inc("rate_limited")
			httpx.Error(w, 429, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

var forwardedIPHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP", "True-Client-IP"}

// clientIP resolves the requesting client address. Forwarding headers are
// honored only when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && s.isTrustedProxy(remoteIP) {
		for _, header := range forwardedIPHeaders {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				continue
			}
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if candidate := parseIP(first); candidate != "" {
				return candidate
			}
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

func (s *Server) isTrustedProxy(ipStr string) bool {
	if len(s.TrustedProxyCIDRs) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range s.TrustedProxyCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

func parseCIDRs(raw string) []*net.IPNet {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]*net.IPNet, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			if _, cidr, err := net.ParseCIDR(part); err == nil {
				out = append(out, cidr)
			}
			continue
		}
		ip := net.ParseIP(part)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

package httpserver

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"limitpaste/internal/paste"
	"limitpaste/web"
)

// PassphraseHeader carries the viewer passphrase on API and raw requests.
const PassphraseHeader = "X-Paste-Passphrase"

// Config captures server configuration.
type Config struct {
	Service *paste.Service
	Logger  zerolog.Logger
	// FrontendURL, when set, is where "/" and "create a new paste" links point.
	FrontendURL string
	TrustProxy  bool
	CORSOrigins []string
	// TestMode honours the X-Test-Now-Ms request header.
	TestMode bool
}

// Server wraps HTTP handling logic.
type Server struct {
	svc         *paste.Service
	router      chi.Router
	templates   *template.Template
	logger      zerolog.Logger
	frontendURL string
	trustProxy  bool
	corsOrigins []string
	testMode    bool
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("paste service required")
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"bytes": func(n int) string { return humanize.IBytes(uint64(n)) },
		"comma": func(n int) string { return humanize.Comma(int64(n)) },
		"deref": func(p *int) int {
			if p == nil {
				return 0
			}
			return *p
		},
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	srv := &Server{
		svc:         cfg.Service,
		router:      chi.NewRouter(),
		templates:   tmpl,
		logger:      cfg.Logger,
		frontendURL: strings.TrimSuffix(cfg.FrontendURL, "/"),
		trustProxy:  cfg.TrustProxy,
		corsOrigins: cfg.CORSOrigins,
		testMode:    cfg.TestMode,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(req).Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Str("request_id", middleware.GetReqID(req.Context())).
			Msg("http request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(observeDuration)
	r.Use(middleware.Compress(5, "text/html", "text/plain", "text/css", "application/json"))
	if s.testMode {
		r.Use(testClock)
	}

	fileServer := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", http.StripPrefix("/", fileServer))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(ar chi.Router) {
		ar.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", PassphraseHeader, testNowHeader},
			MaxAge:         300,
		}))
		ar.Get("/healthz", s.handleHealth)
		ar.Post("/pastes", s.handleAPICreate)
		ar.Get("/pastes/{id}", s.handleAPIView)
	})

	r.Get("/", s.handleIndex)
	r.Post("/pastes", s.handleCreate)

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Post("/", s.handlePassphrase)
		pr.Get("/raw", s.handleRaw)
		pr.Get("/qr", s.handleQR)
	})
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.trustProxy {
		if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			return true
		}
	}
	return false
}

// absoluteURL resolves a service URL against the request when no base URL
// is configured.
func (s *Server) absoluteURL(r *http.Request, u string) string {
	if !strings.HasPrefix(u, "/") {
		return u
	}
	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host + u
}

func (s *Server) homeURL() string {
	if s.frontendURL != "" {
		return s.frontendURL + "/"
	}
	return "/"
}

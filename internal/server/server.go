package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/billing"
	billingstripe "github.com/dukerupert/textblast/internal/billing/stripe"
	"github.com/dukerupert/textblast/internal/carrier"
	"github.com/dukerupert/textblast/internal/config"
	"github.com/dukerupert/textblast/internal/email"
	"github.com/dukerupert/textblast/internal/handler"
	"github.com/dukerupert/textblast/internal/ledger"
	"github.com/dukerupert/textblast/internal/media"
	"github.com/dukerupert/textblast/internal/messaging"
	"github.com/dukerupert/textblast/internal/metrics"
	"github.com/dukerupert/textblast/internal/middleware"
	"github.com/dukerupert/textblast/internal/otp"
	"github.com/dukerupert/textblast/internal/push"
	"github.com/dukerupert/textblast/internal/store"
	ws "github.com/dukerupert/textblast/internal/websocket"
)

// Carrier sends messages and manages phone numbers.
type Carrier interface {
	messaging.Carrier
	handler.NumberProvider
}

// Processor opens checkout sessions and decodes their webhooks.
type Processor interface {
	billing.SessionCreator
	handler.EventParser
}

// Mailer sends OTP codes and welcome mail.
type Mailer interface {
	otp.Mailer
	handler.WelcomeMailer
}

type options struct {
	carrier   Carrier
	processor Processor
	mailer    Mailer
	media     messaging.MediaStore
	limiter   middleware.Limiter
}

type Option func(*options)

func WithCarrier(c Carrier) Option { return func(o *options) { o.carrier = c } }

func WithProcessor(p Processor) Option { return func(o *options) { o.processor = p } }

func WithMailer(m Mailer) Option { return func(o *options) { o.mailer = m } }

func WithMediaStore(m messaging.MediaStore) Option { return func(o *options) { o.media = m } }

func WithLimiter(l middleware.Limiter) Option { return func(o *options) { o.limiter = l } }

type Server struct {
	db     *sql.DB
	cfg    *config.Config
	hub    *ws.Hub
	auth   *auth.Service
	otp    *otp.Service
	push   *push.Service
	ledger *ledger.Ledger

	metrics     *metrics.Metrics
	limiter     middleware.Limiter
	memLimiter  *middleware.RateLimiter
	redisClient *redis.Client
	mediaDir    string

	authH      *handler.AuthHandler
	userH      *handler.UserHandler
	contactH   *handler.ContactHandler
	messagingH *handler.MessagingHandler
	numbersH   *handler.NumbersHandler
	otpH       *handler.OTPHandler
	planH      *handler.PlanHandler
	overviewH  *handler.OverviewHandler
	feedbackH  *handler.FeedbackHandler
	pushH      *handler.PushHandler

	logger *slog.Logger
}

// publishers fans realtime events out to the websocket hub and push.
type publishers []interface {
	Publish(accountID int64, eventType string, payload any)
}

func (ps publishers) Publish(accountID int64, eventType string, payload any) {
	for _, p := range ps {
		p.Publish(accountID, eventType, payload)
	}
}

type observers []ledger.Observer

func (obs observers) BalanceChanged(accountID, delta int64, reason string) {
	for _, o := range obs {
		o.BalanceChanged(accountID, delta, reason)
	}
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		db:      db,
		cfg:     cfg,
		metrics: metrics.New(),
		logger:  logger,
	}

	if o.carrier == nil {
		o.carrier = carrier.NewClient(cfg.Carrier)
	}
	if o.processor == nil {
		o.processor = billingstripe.NewClient(cfg.Stripe)
	}
	if o.mailer == nil {
		o.mailer = email.NewClient(cfg.PostmarkToken, cfg.FromEmail)
	}
	if o.media == nil {
		if cfg.S3.Enabled() {
			o.media = media.NewS3Store(cfg.S3)
		} else {
			disk, err := media.NewDiskStore(cfg.MediaDir, cfg.BaseURL)
			if err != nil {
				return nil, err
			}
			s.mediaDir = disk.Dir()
			o.media = disk
		}
	}
	if o.limiter == nil {
		if cfg.RedisURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
			cancel()
			if err != nil {
				return nil, err
			}
			s.redisClient = client
			o.limiter = middleware.NewRedisLimiter(client, "textblast:ratelimit")
		} else {
			s.memLimiter = middleware.NewRateLimiter()
			o.limiter = s.memLimiter
		}
	}
	s.limiter = o.limiter

	accountStore := store.NewAccountStore(db)
	contactStore := store.NewContactStore(db)
	messageStore := store.NewMessageStore(db)
	paymentStore := store.NewPaymentStore(db)
	planStore := store.NewPlanStore(db)
	pushStore := store.NewPushStore(db)

	s.hub = ws.NewHub(logger.With("component", "websocket"))
	s.push = push.NewService(cfg.Push, pushStore, logger.With("component", "push"))
	events := publishers{s.hub, s.push}

	s.ledger = ledger.New(db)
	s.ledger.SetObserver(observers{s.hub, s.metrics, s.push})

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	s.auth = auth.NewService(accountStore, tokens, logger)
	s.otp = otp.NewService(store.NewOTPStore(db), o.mailer, o.carrier, logger.With("component", "otp"))

	orchestrator := messaging.New(messaging.Deps{
		DB:        db,
		Ledger:    s.ledger,
		Accounts:  accountStore,
		Contacts:  contactStore,
		Messages:  messageStore,
		Carrier:   o.carrier,
		Media:     o.media,
		Publisher: events,
		Recorder:  s.metrics,
		Logger:    logger,
	})
	checkout := billing.NewCheckout(planStore, paymentStore, o.processor, logger)
	reconciler := billing.NewReconciler(db, paymentStore, accountStore, s.ledger, logger,
		billing.WithPublisher(events),
		billing.WithRecorder(s.metrics),
	)

	var welcome handler.WelcomeMailer = o.mailer
	if c, ok := o.mailer.(*email.Client); ok && !c.Configured() {
		welcome = nil
	}

	s.authH = handler.NewAuthHandler(s.auth, accountStore, welcome, cfg.BaseURL, logger.With("component", "auth_handler"))
	s.userH = handler.NewUserHandler(accountStore, s.ledger, logger.With("component", "user"))
	s.contactH = handler.NewContactHandler(contactStore, logger.With("component", "contact"))
	s.messagingH = handler.NewMessagingHandler(orchestrator, logger.With("component", "messaging_handler"))
	s.numbersH = handler.NewNumbersHandler(o.carrier, logger.With("component", "numbers"))
	s.otpH = handler.NewOTPHandler(s.otp, logger.With("component", "otp_handler"))
	s.planH = handler.NewPlanHandler(planStore, checkout, reconciler, o.processor, logger.With("component", "plan"))
	s.overviewH = handler.NewOverviewHandler(store.NewStatsStore(db), logger.With("component", "overview"))
	s.feedbackH = handler.NewFeedbackHandler(store.NewFeedbackStore(db), logger.With("component", "feedback"))
	s.pushH = handler.NewPushHandler(pushStore, s.push, logger.With("component", "push_handler"))

	return s, nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Cleanup removes long-expired OTP codes and stale in-memory rate limit
// windows. It is run periodically by the serve command.
func (s *Server) Cleanup(ctx context.Context) {
	if _, err := s.otp.Sweep(ctx); err != nil {
		s.logger.Error("otp sweep", "error", err)
	}
	if s.memLimiter != nil {
		s.memLimiter.Cleanup()
	}
}

// Close releases connections opened by New.
func (s *Server) Close() error {
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	if s.mediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))))
	}

	// Auth
	mux.Handle("POST /auth/signup", s.rateLimited("auth", s.authH.Signup))
	mux.Handle("POST /auth/login", s.rateLimited("auth", s.authH.Login))
	mux.Handle("GET /auth/profile", s.protected(s.authH.Profile))

	// Users
	mux.Handle("GET /user", s.protected(s.userH.List))
	mux.Handle("GET /user/profile", s.protected(s.authH.Profile))
	mux.Handle("POST /user/sub-user", s.protected(s.userH.CreateSubUser))
	mux.Handle("GET /user/{id}", s.protected(s.userH.Get))
	mux.Handle("PUT /user/{id}", s.protected(s.userH.Update))
	mux.Handle("DELETE /user/{id}", s.protected(s.userH.Delete))

	// Contacts
	mux.Handle("GET /contacts", s.protected(s.contactH.List))
	mux.Handle("POST /contacts", s.protected(s.contactH.Create))
	mux.Handle("POST /contacts/upload", s.protected(s.contactH.Upload))
	mux.Handle("GET /contacts/{id}", s.protected(s.contactH.Get))
	mux.Handle("PUT /contacts/{id}", s.protected(s.contactH.Update))
	mux.Handle("DELETE /contacts/{id}", s.protected(s.contactH.Delete))

	// Messaging
	mux.Handle("POST /messaging/send", s.protected(s.messagingH.Send))
	mux.Handle("POST /messaging/send-bulk", s.protected(s.messagingH.SendBulk))
	mux.Handle("GET /messaging/messages", s.protected(s.messagingH.Messages))
	mux.Handle("GET /messaging/campaigns/{id}", s.protected(s.messagingH.Campaign))

	// Carrier numbers
	mux.Handle("GET /numbers/available", s.protected(s.numbersH.Available))
	mux.Handle("POST /numbers/purchase", s.protected(s.numbersH.Purchase))
	mux.Handle("GET /numbers/purchased", s.protected(s.numbersH.Purchased))

	// OTP
	mux.Handle("POST /otp/send", s.rateLimited("otp", s.otpH.Send))
	mux.Handle("POST /otp/verify", s.rateLimited("otp", s.otpH.Verify))

	// Plans and billing
	mux.HandleFunc("GET /plans", s.planH.List)
	mux.Handle("GET /plans/payments", s.protected(s.planH.Payments))
	mux.HandleFunc("GET /plans/{id}", s.planH.Get)
	mux.Handle("POST /plans", s.protected(s.planH.Create))
	mux.Handle("PUT /plans/{id}", s.protected(s.planH.Update))
	mux.Handle("DELETE /plans/{id}", s.protected(s.planH.Delete))
	mux.Handle("POST /plans/create-checkout-session", s.rateLimited("checkout", s.planH.CreateCheckoutSession))
	mux.HandleFunc("POST /plans/webhook", s.planH.Webhook)

	// Overview and feedback
	mux.Handle("GET /overview/stats", s.protected(s.overviewH.Stats))
	mux.Handle("POST /feedback", s.protected(s.feedbackH.Create))
	mux.Handle("GET /feedback", s.protected(s.feedbackH.List))
	mux.Handle("GET /feedback/mine", s.protected(s.feedbackH.Mine))
	mux.Handle("GET /feedback/{id}", s.protected(s.feedbackH.Get))
	mux.Handle("PUT /feedback/{id}", s.protected(s.feedbackH.Update))

	// Push
	mux.HandleFunc("GET /push/vapid-key", s.pushH.VAPIDKey)
	mux.Handle("POST /push/subscribe", s.protected(s.pushH.Subscribe))
	mux.Handle("POST /push/unsubscribe", s.protected(s.pushH.Unsubscribe))

	// WebSocket
	mux.Handle("GET /ws", middleware.RequireAuthWS(s.auth)(ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins, s.logger.With("component", "websocket"))))

	var h http.Handler = middleware.Metrics(s.metrics)(mux)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(s.auth)(h)
}

func (s *Server) rateLimited(prefix string, h http.HandlerFunc) http.Handler {
	limit := s.cfg.AuthRateLimit
	if limit <= 0 {
		limit = 10
	}
	rl := middleware.RateLimit(s.limiter, middleware.ByIP(prefix), limit, time.Minute, s.logger.With("component", "ratelimit"))
	return rl(h)
}

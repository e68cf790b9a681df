package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

var EmptyData = struct{}{}

// Statistics holds app stats for ops.
type Statistics struct {
	version   string
	container bool
	runtime   string
	platform  string
	called    uint64
	started   time.Time
	status    map[int]uint64
	mu        *sync.RWMutex
}

// Maintenance holds app maintenance mode infos.
type Maintenance struct {
	enabled atomic.Bool
	mu      sync.RWMutex
	message string
	started time.Time
}

// Services groups the business services the handlers rely on.
type Services struct {
	Books   BookServiceProvider
	Ratings RatingServiceProvider
	Users   UserServiceProvider
	Images  ImageHandler
}

// APIHandler defines the API handler.
type APIHandler struct {
	logger        *zap.Logger
	config        *Config
	stats         *Statistics
	mode          *Maintenance
	clock         Clocker
	idsHandler    UIDHandler
	metrics       *Metrics
	limiter       *IPRateLimiter
	bookService   BookServiceProvider
	ratingService RatingServiceProvider
	userService   UserServiceProvider
	images        ImageHandler
}

// NewAPIHandler provides a new instance of APIHandler.
func NewAPIHandler(logger *zap.Logger, config *Config, stats *Statistics, clock Clocker, idsHandler UIDHandler, metrics *Metrics, svc *Services) *APIHandler {
	m := &Maintenance{}
	m.enabled.Store(false)
	stats.status = make(map[int]uint64)
	stats.mu = &sync.RWMutex{}
	if svc == nil {
		svc = &Services{}
	}
	return &APIHandler{
		logger:        logger,
		config:        config,
		stats:         stats,
		mode:          m,
		clock:         clock,
		idsHandler:    idsHandler,
		metrics:       metrics,
		bookService:   svc.Books,
		ratingService: svc.Ratings,
		userService:   svc.Users,
		images:        svc.Images,
	}
}

// WithRateLimiter enables per source ip rate limiting on public routes.
func (api *APIHandler) WithRateLimiter(l *IPRateLimiter) *APIHandler {
	api.limiter = l
	return api
}

// Index provides same details like `Status` handler by redirecting the request.
func (api *APIHandler) Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/status", http.StatusSeeOther)
}

// Status provides basics details about the application to the public users.
func (api *APIHandler) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(
		map[string]interface{}{
			"requestid": requestID,
			"status":    fmt.Sprintf("up & running since %.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
			"message":   "Hello. Book ratings api is available. Enjoy :)",
		},
	); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send status response", zap.Error(err))
	}
}

// NotFound answers unknown routes with a json message.
func (api *APIHandler) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusNotFound)
		if err := json.NewEncoder(w).Encode(map[string]string{"message": "endpoint not found"}); err != nil {
			api.logger.Error("failed to send not found response", zap.String("request.path", r.URL.Path), zap.Error(err))
		}
	})
}

// sendError logs the failure and writes the matching error envelope. The
// fallback message is used for internal failures.
func (api *APIHandler) sendError(w http.ResponseWriter, r *http.Request, err error, fallback string, fields ...zap.Field) {
	logger := api.GetLoggerFromContext(r.Context())
	status := StatusFromError(err)
	fields = append(fields, zap.Int("status", status), zap.Error(err))
	if status >= http.StatusInternalServerError {
		logger.Error(fallback, fields...)
	} else {
		logger.Info(fallback, fields...)
	}

	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	errResp := NewAPIError(requestID, status, ErrorMessage(err, fallback), EmptyData)
	if werr := WriteErrorResponse(r.Context(), w, errResp); werr != nil {
		logger.Error("failed to send error response", zap.Error(werr))
	}
}

// sendResponse writes a success envelope.
func (api *APIHandler) sendResponse(w http.ResponseWriter, r *http.Request, status int, message string, total *int, data interface{}) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	resp := GenericResponse(requestID, status, message, total, data)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send response", zap.Error(err))
	}
}

package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"selftreat/internal/domain"
	"selftreat/internal/repository"
	"selftreat/internal/service"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "selftreat_session"

const (
	msgLoginOK        = "Login successful"
	msgBadCredentials = "Invalid credentials"
	msgServerError    = "Server error"
	msgLoggedOut      = "Logged out successfully"
	msgAuthRequired   = "Admin authentication required"
	msgListFailed     = "Error fetching diseases"
	msgNotFound       = "Disease not found"
	msgGetFailed      = "Error fetching disease"
	msgSearchFailed   = "Error searching diseases"
	msgAdded          = "Disease added successfully"
	msgAddFailed      = "Error adding disease"
	msgUpdated        = "Disease updated successfully"
	msgUpdateFailed   = "Error updating disease"
	msgDeleted        = "Disease deleted successfully"
	msgDeleteFailed   = "Error deleting disease"
	msgInvalidBody    = "Invalid request body"
	msgMissingFields  = "Name and treatment are required"
	msgTooManyLogins  = "Too many login attempts"
	msgBackupCreated  = "Backup created successfully"
	msgBackupFailed   = "Error creating backup"
	msgBackupList     = "Error listing backups"
	msgBackupDisabled = "Backups are not configured"
)

// Options tunes the HTTP surface.
type Options struct {
	// StaticDir holds the browser clients. Empty disables static serving.
	StaticDir string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	LoginRPS     float64
	LoginBurst   int
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	catalog service.CatalogService
	auth    service.AuthService
	backups service.BackupService
	logger  *logrus.Logger
	opts    Options
	limiter *loginLimiter
}

func NewHandler(catalog service.CatalogService, auth service.AuthService, backups service.BackupService, logger *logrus.Logger, opts Options) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.LoginRPS <= 0 {
		opts.LoginRPS = 1
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}
	return &Handler{
		catalog: catalog,
		auth:    auth,
		backups: backups,
		logger:  logger,
		opts:    opts,
		limiter: newLoginLimiter(opts.LoginRPS, opts.LoginBurst),
	}
}

// NewRouter returns a gin engine with panic recovery that honours
// X-Forwarded-For only from the listed proxies. An empty list trusts none,
// so ClientIP is always the connection's remote address.
func NewRouter(trustedProxies []string) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	return router, nil
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), requestLogger(h.logger))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	if h.opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.GET("/diseases", h.listDiseases)
		api.GET("/diseases/:id", h.getDisease)
		api.GET("/search", h.searchDiseases)
	}

	admin := api.Group("/admin")
	{
		admin.POST("/login", h.limiter.middleware(), h.login)
		admin.POST("/logout", h.logout)
		admin.GET("/check", h.check)

		guarded := admin.Group("", h.requireSession())
		guarded.POST("/diseases", h.addDisease)
		guarded.PUT("/diseases/:id", h.updateDisease)
		guarded.DELETE("/diseases/:id", h.deleteDisease)
		guarded.POST("/backups", h.createBackup)
		guarded.GET("/backups", h.listBackups)
	}

	if h.opts.StaticDir != "" {
		h.registerStatic(router)
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type diseaseRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	Symptoms    string `json:"symptoms" form:"symptoms"`
	Treatment   string `json:"treatment" form:"treatment"`
}

func (r diseaseRequest) input() domain.DiseaseInput {
	return domain.DiseaseInput{
		Name:        r.Name,
		Description: r.Description,
		Symptoms:    r.Symptoms,
		Treatment:   r.Treatment,
	}
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Infof("failed login for %q from %s", req.Username, c.ClientIP())
			fail(c, http.StatusUnauthorized, msgBadCredentials)
			return
		}
		h.logger.Errorf("login: %v", err)
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}

	maxAge := int(time.Until(res.Session.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, res.Token, maxAge, "/", "", h.opts.SecureCookie, true)
	h.logger.Infof("admin %q logged in", res.Session.Username)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgLoginOK, "token": res.Token})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), sessionToken(c)); err != nil {
		h.logger.Warnf("logout: %v", err)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", h.opts.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgLoggedOut})
}

func (h *Handler) check(c *gin.Context) {
	_, err := h.auth.Authenticate(c.Request.Context(), sessionToken(c))
	if err != nil && !errors.Is(err, service.ErrAuthenticationRequired) {
		h.logger.Warnf("session check: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": err == nil})
}

func (h *Handler) listDiseases(c *gin.Context) {
	diseases, err := h.catalog.ListDiseases(c.Request.Context())
	if err != nil {
		h.logger.Errorf("list diseases: %v", err)
		fail(c, http.StatusInternalServerError, msgListFailed)
		return
	}
	c.JSON(http.StatusOK, diseasesToResponse(diseases))
}

func (h *Handler) getDisease(c *gin.Context) {
	id, ok := diseaseID(c)
	if !ok {
		fail(c, http.StatusNotFound, msgNotFound)
		return
	}

	disease, err := h.catalog.GetDisease(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(c, http.StatusNotFound, msgNotFound)
			return
		}
		h.logger.Errorf("get disease %d: %v", id, err)
		fail(c, http.StatusInternalServerError, msgGetFailed)
		return
	}
	c.JSON(http.StatusOK, diseaseToResponse(*disease))
}

func (h *Handler) searchDiseases(c *gin.Context) {
	diseases, err := h.catalog.SearchDiseases(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.logger.Errorf("search diseases: %v", err)
		fail(c, http.StatusInternalServerError, msgSearchFailed)
		return
	}
	c.JSON(http.StatusOK, diseasesToResponse(diseases))
}

func (h *Handler) addDisease(c *gin.Context) {
	var req diseaseRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	id, err := h.catalog.AddDisease(c.Request.Context(), req.input())
	if err != nil {
		if errors.Is(err, service.ErrInvalidDisease) {
			fail(c, http.StatusBadRequest, msgMissingFields)
			return
		}
		h.logger.Errorf("add disease: %v", err)
		fail(c, http.StatusInternalServerError, msgAddFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "message": msgAdded})
}

func (h *Handler) updateDisease(c *gin.Context) {
	id, ok := diseaseID(c)
	if !ok {
		fail(c, http.StatusNotFound, msgNotFound)
		return
	}
	var req diseaseRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := h.catalog.UpdateDisease(c.Request.Context(), id, req.input()); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDisease):
			fail(c, http.StatusBadRequest, msgMissingFields)
		case errors.Is(err, repository.ErrNotFound):
			fail(c, http.StatusNotFound, msgNotFound)
		default:
			h.logger.Errorf("update disease %d: %v", id, err)
			fail(c, http.StatusInternalServerError, msgUpdateFailed)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgUpdated})
}

func (h *Handler) deleteDisease(c *gin.Context) {
	id, ok := diseaseID(c)
	if !ok {
		fail(c, http.StatusNotFound, msgNotFound)
		return
	}

	if err := h.catalog.DeleteDisease(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(c, http.StatusNotFound, msgNotFound)
			return
		}
		h.logger.Errorf("delete disease %d: %v", id, err)
		fail(c, http.StatusInternalServerError, msgDeleteFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgDeleted})
}

func (h *Handler) createBackup(c *gin.Context) {
	backup, err := h.backups.Create(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrBackupDisabled) {
			fail(c, http.StatusServiceUnavailable, msgBackupDisabled)
			return
		}
		h.logger.Errorf("create backup: %v", err)
		fail(c, http.StatusInternalServerError, msgBackupFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgBackupCreated, "key": backup.Key, "size": backup.Size})
}

func (h *Handler) listBackups(c *gin.Context) {
	backups, err := h.backups.List(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrBackupDisabled) {
			fail(c, http.StatusServiceUnavailable, msgBackupDisabled)
			return
		}
		h.logger.Errorf("list backups: %v", err)
		fail(c, http.StatusInternalServerError, msgBackupList)
		return
	}

	resp := make([]BackupResponse, len(backups))
	for i := range backups {
		resp[i] = backupToResponse(backups[i])
	}
	c.JSON(http.StatusOK, resp)
}

// diseaseID parses the :id path parameter. Anything but a positive integer
// refers to no disease.
func diseaseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type DiseaseResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Symptoms    string `json:"symptoms"`
	Treatment   string `json:"treatment"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type BackupResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
	URL          string  `json:"url,omitempty"`
}

func diseaseToResponse(d domain.Disease) DiseaseResponse {
	return DiseaseResponse{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Symptoms:    d.Symptoms,
		Treatment:   d.Treatment,
		CreatedAt:   domain.FormatTime(d.CreatedAt),
		UpdatedAt:   domain.FormatTime(d.UpdatedAt),
	}
}

func diseasesToResponse(diseases []domain.Disease) []DiseaseResponse {
	resp := make([]DiseaseResponse, len(diseases))
	for i := range diseases {
		resp[i] = diseaseToResponse(diseases[i])
	}
	return resp
}

func backupToResponse(b service.Backup) BackupResponse {
	resp := BackupResponse{
		Key:  b.Key,
		Size: b.Size,
		URL:  b.URL,
	}
	if b.LastModified != nil && !b.LastModified.IsZero() {
		v := b.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

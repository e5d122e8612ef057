package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"taoo-rewards/internal/auth"
	"taoo-rewards/internal/cache"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/database"
	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/middleware"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
	adminsvc "taoo-rewards/internal/services/admin"
	"taoo-rewards/internal/services/otpauth"
	"taoo-rewards/internal/services/rewards"
)

const (
	maxReceiptBytes = 8 << 20
	adminTokenTTL   = 4 * time.Hour
)

type WheelStore interface {
	SaveWheel(ctx context.Context, segments []models.WheelSegment) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type AdminCredentials struct {
	Password   string
	TOTPSecret string
}

type Handler struct {
	otp     *otpauth.Service
	rewards *rewards.Service
	jwt     *auth.Manager
	wheels  WheelStore
	cache   *cache.WheelCache
	env     *adminsvc.EnvService
	db      Pinger
	admin   AdminCredentials
	logger  *zap.Logger
}

type Deps struct {
	OTP     *otpauth.Service
	Rewards *rewards.Service
	JWT     *auth.Manager
	Wheels  WheelStore
	Cache   *cache.WheelCache
	Env     *adminsvc.EnvService
	DB      Pinger
	Admin   AdminCredentials
	Logger  *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		otp:     d.OTP,
		rewards: d.Rewards,
		jwt:     d.JWT,
		wheels:  d.Wheels,
		cache:   d.Cache,
		env:     d.Env,
		db:      d.DB,
		admin:   d.Admin,
		logger:  d.Logger,
	}
}

type RouteOptions struct {
	AdminIPs []string
	// SendLimiter throttles /api/otp/send per client IP when set.
	SendLimiter *middleware.RateLimiter
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager, opts RouteOptions) {
	r.GET("/api/health", h.Health)

	otp := r.Group("/api")
	if opts.SendLimiter != nil {
		otp.POST("/otp/send", opts.SendLimiter.Middleware(), h.SendCode)
	} else {
		otp.POST("/otp/send", h.SendCode)
	}
	otp.POST("/otp/verify", h.VerifyCode)
	otp.POST("/register", h.Register)

	api := r.Group("/api")
	api.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleUser))
	api.GET("/me", h.Me)
	api.DELETE("/me", h.DeleteAccount)
	api.GET("/me/history", h.History)
	api.GET("/spin", h.SpinStatus)
	api.POST("/spin", h.Spin)
	api.POST("/receipts", h.ScanReceipt)
	api.POST("/tier/upgrade", h.UpgradeTier)
	api.POST("/purchases", h.Purchase)
	api.GET("/deals", h.Deals)
	api.GET("/deals/:id", h.Deal)
	api.POST("/deals/:id/redeem", h.Redeem)

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminIPWhitelist(opts.AdminIPs))
	admin.POST("/login", h.AdminLogin)

	adminProtected := admin.Group("/")
	adminProtected.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleAdmin))
	adminProtected.GET("/wheel", h.GetWheel)
	adminProtected.PUT("/wheel", h.UpdateWheel)
	if h.env != nil {
		adminProtected.GET("/env", h.EnvList)
		adminProtected.PUT("/env", h.EnvUpdate)
	}
}

func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "timestamp": time.Now().UTC()}
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	c.JSON(status, body)
}

type sendRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func (h *Handler) SendCode(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.otp.Send(c.Request.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, otpauth.ErrCooldown) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    err.Error(),
				"resendIn": seconds(res.ResendIn),
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"existing": res.Existing, "resendIn": seconds(res.ResendIn)})
}

type verifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (h *Handler) VerifyCode(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.otp.Verify(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.User == nil {
		c.JSON(http.StatusOK, gin.H{"ticket": res.Ticket, "needsProfile": true})
		return
	}
	h.respondWithSession(c, http.StatusOK, res.User)
}

type registerRequest struct {
	Ticket    string `json:"ticket" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, err := h.otp.Register(c.Request.Context(), req.Ticket, req.FirstName, req.LastName)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithSession(c, http.StatusCreated, u)
}

func (h *Handler) respondWithSession(c *gin.Context, status int, u *models.User) {
	token, err := h.jwt.IssueToken(u.ID, u.Phone, auth.RoleUser)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{"token": token, "user": u})
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.rewards.Me(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.rewards.DeleteAccount(c.Request.Context(), userID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := h.rewards.History(c.Request.Context(), userID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) SpinStatus(c *gin.Context) {
	status, err := h.rewards.Status(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type spinRequest struct {
	SpinID string `json:"spinId"`
}

func (h *Handler) Spin(c *gin.Context) {
	var req spinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	out, err := h.rewards.Spin(c.Request.Context(), userID(c), req.SpinID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ScanReceipt(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	if file.Size > maxReceiptBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
		return
	}
	defer f.Close()
	image, err := io.ReadAll(io.LimitReader(f, maxReceiptBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
		return
	}
	out, err := h.rewards.ScanReceipt(c.Request.Context(), userID(c), image)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type upgradeRequest struct {
	Tier models.Tier `json:"tier" binding:"required"`
}

func (h *Handler) UpgradeTier(c *gin.Context) {
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, err := h.rewards.UpgradeTier(c.Request.Context(), userID(c), req.Tier)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type purchaseRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
	Months int   `json:"months" binding:"required,gt=0"`
}

func (h *Handler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, inst, err := h.rewards.Purchase(c.Request.Context(), userID(c), req.Amount, req.Months)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "installment": inst})
}

func (h *Handler) Deals(c *gin.Context) {
	deals, err := h.rewards.Deals(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": deals})
}

// Deal answers 200 with unavailable=true for unknown ids so the client
// can render its placeholder.
func (h *Handler) Deal(c *gin.Context) {
	view, err := h.rewards.Deal(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Redeem(c *gin.Context) {
	u, err := h.rewards.Redeem(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type adminLoginRequest struct {
	Password string `json:"password" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	if h.admin.Password == "" || h.admin.TOTPSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin disabled"})
		return
	}
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.admin.Password)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if ok := totp.Validate(req.Code, h.admin.TOTPSecret); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp"})
		return
	}
	token, err := h.jwt.IssueWithTTL(auth.RoleAdmin, "", auth.RoleAdmin, adminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) GetWheel(c *gin.Context) {
	segments, err := h.cache.Get(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

func (h *Handler) UpdateWheel(c *gin.Context) {
	var payload struct {
		Segments []models.WheelSegment `json:"segments"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := lottery.Validate(payload.Segments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.wheels.SaveWheel(c.Request.Context(), payload.Segments); err != nil {
		h.logger.Error("save wheel failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	h.cache.Invalidate()
	h.logger.Info("wheel updated", zap.Int("segments", len(payload.Segments)))
	c.JSON(http.StatusOK, gin.H{"updated": len(payload.Segments)})
}

func (h *Handler) EnvList(c *gin.Context) {
	values, err := h.env.Read()
	if err != nil {
		h.logger.Error("env read failed", zap.String("path", h.env.Path()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "env read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"env": values, "editable": adminsvc.Keys()})
}

func (h *Handler) EnvUpdate(c *gin.Context) {
	payload := map[string]string{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid keys"})
		return
	}
	if err := h.env.Update(payload); err != nil {
		if errors.Is(err, adminsvc.ErrUnknownKey) || errors.Is(err, adminsvc.ErrInvalidValue) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("env update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.logger.Info("env updated", zap.Int("keys", len(payload)))
	c.JSON(http.StatusOK, gin.H{"updated": len(payload)})
}

func userID(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// fail maps domain errors onto status codes; anything unknown is a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, otpauth.ErrInvalidPhone),
		errors.Is(err, otpauth.ErrNameRequired),
		errors.Is(err, ledger.ErrInvalidTier),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidReceipt),
		errors.Is(err, ledger.ErrInvalidSplit),
		errors.Is(err, receipt.ErrEmptyImage),
		errors.Is(err, lottery.ErrInvalidTable):
		status = http.StatusBadRequest
	case errors.Is(err, otpauth.ErrInvalidCode),
		errors.Is(err, otpauth.ErrCodeExpired),
		errors.Is(err, otpauth.ErrTicket):
		status = http.StatusUnauthorized
	case errors.Is(err, catalog.ErrLocked):
		status = http.StatusForbidden
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lottery.ErrAlreadyPlayed),
		errors.Is(err, ledger.ErrNotUpgrade),
		errors.Is(err, ledger.ErrInsufficientPoints),
		errors.Is(err, ledger.ErrLimitExceeded):
		status = http.StatusConflict
	case errors.Is(err, otpauth.ErrCooldown):
		status = http.StatusTooManyRequests
	case errors.Is(err, context.Canceled):
		status = 499
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

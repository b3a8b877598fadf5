// Package handler exposes attendance submission, window inspection and
// on-demand sweeps over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler holds the dependencies of the HTTP routes.
type Handler struct {
	service *attendance.Service
	sweeper *attendance.Sweeper
	cloud   *cloudinary.Client // nil when proof uploads are disabled
	checks  map[string]HealthCheck
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a Handler. cloud may be nil.
func New(service *attendance.Service, sweeper *attendance.Sweeper, cloud *cloudinary.Client, log logrus.FieldLogger) *Handler {
	return &Handler{
		service: service,
		sweeper: sweeper,
		cloud:   cloud,
		checks:  make(map[string]HealthCheck),
		log:     log,
		now:     time.Now,
	}
}

// AddHealthCheck registers a dependency probe for /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Register mounts the routes on r. Everything under /v1 requires a bearer token.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc, extra ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", append([]gin.HandlerFunc{authn}, extra...)...)
	v1.POST("/proofs", auth.RequireRole(auth.RoleStudent), h.UploadProof)
	v1.POST("/classrooms/:id/submissions", auth.RequireRole(auth.RoleStudent), h.Submit)
	v1.GET("/classrooms/:id/window", h.Window)
	v1.POST("/classrooms/:id/sweep", auth.RequireRole(auth.RoleInstructor), h.Sweep)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Submission ----------

type submitRequest struct {
	Kind     string `json:"kind" binding:"required,oneof=proof excuse"`
	Subject  string `json:"subject" binding:"max=120"`
	ProofRef string `json:"proofRef" binding:"omitempty,url"`
	Excuse   string `json:"excuse" binding:"max=2000"`
}

// Submit records a student's proof or excuse for the current session.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)

	res, err := h.service.Submit(c.Request.Context(), attendance.SubmitRequest{
		ClassroomID: c.Param("id"),
		StudentID:   claims.Subject,
		Subject:     req.Subject,
		Kind:        attendance.SubmissionKind(req.Kind),
		ProofRef:    req.ProofRef,
		Excuse:      req.Excuse,
	}, h.now())
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"record": res.Record, "window": res.Window})
	case errors.Is(err, attendance.ErrAlreadyRecorded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "record": res.Record})
	default:
		h.serviceError(c, err)
	}
}

// ---------- Windows ----------

// Window classifies today's sessions of a classroom. Instructors may pass
// ?at=<RFC3339> to evaluate another instant.
func (h *Handler) Window(c *gin.Context) {
	ref, ok := h.reference(c, c.Query("at"))
	if !ok {
		return
	}
	windows, err := h.service.Windows(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"at": ref, "sessions": windows})
}

// ---------- Sweep ----------

type sweepRequest struct {
	At string `json:"at"`
}

type sweepResponse struct {
	attendance.SweepResult
	Errors []string `json:"errors,omitempty"`
}

// Sweep runs an immediate sweep of one classroom.
func (h *Handler) Sweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.bindError(c, err)
			return
		}
	}
	ref, ok := h.reference(c, req.At)
	if !ok {
		return
	}
	res, err := h.sweeper.SweepClassroom(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sweepResponse{SweepResult: res, Errors: res.ErrorStrings()})
}

// ---------- Proof upload ----------

// UploadProof stores a proof photo and returns its URL for a later submission.
// Accepts a multipart "file" field or a JSON {"data": "<data URL>"} body.
func (h *Handler) UploadProof(c *gin.Context) {
	if !h.cloud.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	publicID := claims.Subject + "/" + uuid.NewString()

	var (
		result *cloudinary.UploadResult
		err    error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		result, err = h.cloud.UploadProof(c.Request.Context(), file, header.Filename, publicID)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": `provide {"data": "<base64 data URL>"}`})
			return
		}
		result, err = h.cloud.UploadDataURL(c.Request.Context(), body.Data, publicID)
	}
	if err != nil {
		h.log.WithError(err).WithField("student", claims.Subject).Error("proof upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": result.SecureURL, "publicId": result.PublicID})
}

// reference resolves the evaluation instant. Only instructors may override it.
func (h *Handler) reference(c *gin.Context, at string) (time.Time, bool) {
	if at == "" {
		return h.now(), true
	}
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role != auth.RoleInstructor {
		c.JSON(http.StatusForbidden, gin.H{"error": "only instructors may set the evaluation time"})
		return time.Time{}, false
	}
	ref, err := time.Parse(time.RFC3339, at)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "at must be RFC3339"})
		return time.Time{}, false
	}
	return ref, true
}

func (h *Handler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON body"})
}

func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrClassroomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case attendance.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case attendance.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		h.log.WithError(err).Warn("transient failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
	default:
		h.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

package license

import (
	"net/http"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the endpoints tenants reach from the license
// page. They sit outside the access gate.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/license/activate", h.Activate)
	r.GET("/license/status/:tenant", h.Status)
}

func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/licenses", h.ListLicenses)
	r.POST("/license-keys", h.IssueKeys)
	r.POST("/licenses/:id/revoke", h.Revoke)
}

type activationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type activateResponse struct {
	Success bool             `json:"success"`
	License *LicenseInfo     `json:"license,omitempty"`
	Error   *activationError `json:"error,omitempty"`
}

func (h *Handler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, activateResponse{
			Error: &activationError{Code: string(errutil.StatusBadRequest), Message: "invalid request body"},
		})
		return
	}

	info, err := h.service.Activate(c.Request.Context(), req)
	if err != nil {
		code := errutil.CodeOf(err)
		message := "license activation failed"
		if base, ok := errutil.As(err); ok && code != errutil.StatusInternal {
			message = base.Message
		}
		c.JSON(code.HTTPStatus(), activateResponse{
			Error: &activationError{Code: ReasonOf(err), Message: message},
		})
		return
	}

	c.JSON(http.StatusOK, activateResponse{Success: true, License: info})
}

func (h *Handler) Status(c *gin.Context) {
	decision, _, err := h.service.Status(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (h *Handler) ListLicenses(c *gin.Context) {
	licenses, err := h.service.ListLicenses(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": licenses})
}

func (h *Handler) IssueKeys(c *gin.Context) {
	var req IssueKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	keys, err := h.service.IssueKeys(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    keys,
		"warning": "Store these keys securely. They will not be shown again.",
	})
}

func (h *Handler) Revoke(c *gin.Context) {
	lic, err := h.service.RevokeLicense(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

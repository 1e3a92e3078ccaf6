package forms

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes:
//   - user   : RequireAuth + RequireRole(user) 済み
//   - authed : RequireAuth 済み（admin / user どちらも）
//   - admin  : RequireAuth + RequireRole(admin) 済み
func RegisterRoutes(user, authed, admin gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 1. LINE ユーザー本人
	// POST /contacts
	user.POST("/contacts", h.CreateOwnContact)
	// GET /contacts/location
	user.GET("/contacts/location", h.GetOwnLocation)
	// PUT /contacts/location
	user.PUT("/contacts/location", h.SubmitLocation)

	// 2. フォーム参照（admin は全件、user は自分のものだけ）
	// GET /forms/:id
	authed.GET("/forms/:id", h.GetForm)

	// 3. 管理
	// POST /forms
	admin.POST("/forms", h.CreateForm)
	// PUT /forms/:id
	admin.PUT("/forms/:id", h.UpdateForm)
	// DELETE /forms/:id
	admin.DELETE("/forms/:id", h.DeleteForm)
	// GET /admin/forms
	admin.GET("/admin/forms", h.Dashboard)
}

// ---------- handlers ----------

// POST /contacts
func (h *Handler) CreateOwnContact(c *gin.Context) {
	var req FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.CreateOwnContact(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/api/v1/forms/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

// GET /contacts/location
func (h *Handler) GetOwnLocation(c *gin.Context) {
	res, err := h.svc.GetOwnLocation(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// PUT /contacts/location
func (h *Handler) SubmitLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.SubmitLocation(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /forms/:id
func (h *Handler) GetForm(c *gin.Context) {
	res, err := h.svc.GetForm(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	// 他人のフォームは存在も見せない
	if !auth.IsAdmin(c) && (res.LineID == nil || *res.LineID != auth.UserID(c)) {
		c.JSON(http.StatusNotFound, errorBody(CodeNotFound, "form not found"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /forms
func (h *Handler) CreateForm(c *gin.Context) {
	var req FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.CreateForm(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/api/v1/forms/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

// PUT /forms/:id
func (h *Handler) UpdateForm(c *gin.Context) {
	var req FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.UpdateForm(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /forms/:id
func (h *Handler) DeleteForm(c *gin.Context) {
	if err := h.svc.DeleteForm(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /admin/forms
func (h *Handler) Dashboard(c *gin.Context) {
	res, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

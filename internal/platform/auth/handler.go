package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc *Service }

// RegisterRoutes: public はログイン、admin は requireAdmin 済みのグループ
func RegisterRoutes(public gin.IRoutes, admin gin.IRoutes, svc *Service) {
	h := &AuthHandler{svc: svc}
	// POST /login/admin
	public.POST("/login/admin", h.LoginAdmin)
	// POST /login/line
	public.POST("/login/line", h.LoginLine)

	// POST /admin/accounts
	admin.POST("/accounts", h.Register)
	// DELETE /admin/accounts/:id
	admin.DELETE("/accounts/:id", h.DeleteAccount)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) LoginAdmin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.svc.LoginAdmin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": RoleAdmin})
}

type LineLoginRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

func (h *AuthHandler) LoginLine(c *gin.Context) {
	var req LineLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sess, err := h.svc.LoginLine(c.Request.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid LINE id token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

type RegisterRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "ID already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := c.Param("id")
	if id == UserID(c) {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot delete own account"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler exposes login and self-registration.
type Handler struct {
	verifier       Verifier
	registrar      *StoreVerifier
	secret         []byte
	masterPassword string
	ttl            time.Duration
}

func NewHandler(verifier Verifier, registrar *StoreVerifier, secret []byte, masterPassword string, ttl time.Duration) *Handler {
	return &Handler{
		verifier:       verifier,
		registrar:      registrar,
		secret:         secret,
		masterPassword: masterPassword,
		ttl:            ttl,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
	if h.registrar != nil {
		g.POST("/auth/register", h.Register)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.verifier.Verify(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	token, err := IssueToken(h.secret, *id, h.ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token issue failed")
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, FullName: id.FullName, Role: id.Role})
}

type registerRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	FullName       string `json:"fullName"`
	MasterPassword string `json:"masterPassword"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.registrar.Register(c.Request().Context(), req.Username, req.Password, req.FullName, req.MasterPassword, h.masterPassword)
	if errors.Is(err, ErrMasterPassword) {
		return echo.NewHTTPError(http.StatusForbidden, "master password mismatch")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "created"})
}

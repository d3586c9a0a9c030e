package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	AdminSessionCookie = "admin_session"
	adminSessionMaxAge = 8 * time.Hour
)

// AdminAuth checks the shared admin credentials and the session cookie
// issued on login. The cookie carries the configured session secret.
type AdminAuth struct {
	username string
	password string
	secret   string
	log      logrus.FieldLogger
}

func NewAdminAuth(username, password, secret string, log logrus.FieldLogger) *AdminAuth {
	return &AdminAuth{username: username, password: password, secret: secret, log: log}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticated reports whether the request carries a valid session cookie.
func (a *AdminAuth) Authenticated(c *gin.Context) bool {
	if a.secret == "" {
		return false
	}
	value, err := c.Cookie(AdminSessionCookie)
	if err != nil {
		return false
	}
	return equal(value, a.secret)
}

// RequireAdmin aborts with 401 unless the session cookie is valid.
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Authenticated(c) {
			respondProblem(c, ProblemUnauthorized.WithDetail("Unauthorized"))
			return
		}
		c.Next()
	}
}

// POST /api/admin/login
func (a *AdminAuth) Login(c *gin.Context) {
	var payload LoginRequest
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Username == "" || payload.Password == "" {
		respondProblem(c, ProblemBadRequest.WithDetail("Username and password are required"))
		return
	}

	// Compare both before branching.
	userOK := equal(payload.Username, a.username)
	passOK := equal(payload.Password, a.password)
	if !userOK || !passOK || a.secret == "" {
		a.log.WithField("client_ip", c.ClientIP()).Warn("admin login rejected")
		respondProblem(c, ProblemUnauthorized.WithDetail("Invalid credentials"))
		return
	}

	a.setCookie(c, a.secret, int(adminSessionMaxAge.Seconds()))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/admin/logout
func (a *AdminAuth) Logout(c *gin.Context) {
	a.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/admin/session
func (a *AdminAuth) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isAdmin": a.Authenticated(c)})
}

func (a *AdminAuth) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AdminSessionCookie, value, maxAge, "/", "", c.Request.TLS != nil, true)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateSession is called by the identity service after it has authenticated
// the user. The raw token is returned once and also set as a cookie.
func (s *Server) CreateSession(c *gin.Context) {
	resp, err := s.sessionSvc.Issue(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, resp.Token, resp.ExpiresAt)
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RevokeSession(c *gin.Context) {
	raw := c.GetString(contextSessionKey)
	if raw == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.sessionSvc.Revoke(c.Request.Context(), raw); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

package handler

import (
	"net/http"

	"github.com/WiesHerd/contractpipeline/middleware"
	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

// openSession returns the caller's assignment store, writing the error
// response itself when there is none.
func openSession(c *gin.Context, sessions *service.Sessions) (*service.AssignmentStore, bool) {
	store, err := sessions.Open(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return store, true
}

type SessionHandler struct {
	sessions *service.Sessions
}

func NewSessionHandler(sessions *service.Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Logout clears the caller's assignment session and its persisted copy.
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session cleared"})
}

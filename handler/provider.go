package handler

import (
	"net/http"
	"strconv"

	"github.com/WiesHerd/contractpipeline/service"
	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	tracker *service.Tracker
}

func NewProviderHandler(tracker *service.Tracker) *ProviderHandler {
	return &ProviderHandler{tracker: tracker}
}

// List pages through providers by id. Pass next_page_token back as pageToken.
func (h *ProviderHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.tracker.ListProviders(c.Request.Context(), c.Query("pageToken"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

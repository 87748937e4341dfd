package routes

import (
	"net/http"
	"strconv"
	"strings"

	"mail-archive-search/models"
	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

func SetupSearchRoutes(api *gin.RouterGroup, deps *Deps, guard gin.HandlersChain) {
	searchGroup := api.Group("/search", guard...)

	searchGroup.GET("", func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			utils.RespondWithBadRequest(c, "Query parameter q is required", nil)
			return
		}
		topK, ok := parseTopK(c, c.Query("top_k"))
		if !ok {
			return
		}

		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), utils.SearchTimeout)
		defer cancel()

		resp, err := deps.Search.Lexical(ctx, query, topK)
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	searchGroup.POST("/semantic", func(c *gin.Context) {
		var req models.SemanticSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		query := strings.TrimSpace(req.Query)
		if query == "" {
			utils.RespondWithBadRequest(c, "Query must not be blank", nil)
			return
		}

		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), utils.SearchTimeout)
		defer cancel()

		resp, err := deps.Search.Semantic(ctx, query, clampTopK(req.TopK))
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})
}

// parseTopK reads an optional top_k value and writes the 400 itself.
func parseTopK(c *gin.Context, raw string) (int, bool) {
	if raw == "" {
		return defaultTopK, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		utils.RespondWithBadRequest(c, "top_k must be a positive integer", nil)
		return 0, false
	}
	return clampTopK(n), true
}

func clampTopK(n int) int {
	switch {
	case n <= 0:
		return defaultTopK
	case n > maxTopK:
		return maxTopK
	}
	return n
}

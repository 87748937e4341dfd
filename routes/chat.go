package routes

import (
	"net/http"
	"strings"

	"mail-archive-search/middleware"
	"mail-archive-search/models"
	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
)

func SetupChatRoutes(api *gin.RouterGroup, deps *Deps, guard gin.HandlersChain) {
	api.POST("/chat", with(guard, handleChat(deps))...)
}

func handleChat(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}
		question := strings.TrimSpace(req.Question)
		if question == "" {
			utils.RespondWithBadRequest(c, "Question must not be blank", nil)
			return
		}

		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), utils.ChatTimeout)
		defer cancel()

		resp, err := deps.Chat.Answer(ctx, question, clampTopK(req.TopK))
		if err != nil {
			middleware.Log(c).Error("Chat failed", "error", err)
			utils.RespondWithErr(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

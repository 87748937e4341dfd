package routes

import (
	"net/http"
	"time"

	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
)

// usageReporter is implemented by model clients that count their quota use.
type usageReporter interface {
	Usage() (minuteRequests, minuteTokens, dailyRequests, dailyTokens int)
}

func SetupHealthRoutes(router *gin.Engine, deps *Deps) {
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		}

		count, err := deps.Repo.CountMails(ctx)
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["store"] = err.Error()
		} else {
			body["store"] = "ok"
			body["mails"] = count
		}

		body["llm"] = "ok"
		if deps.LLM == nil || deps.LLM.Ping(ctx) != nil {
			// Imports and lexical search keep working without the model.
			body["llm"] = "unavailable"
		}

		if u, ok := deps.LLM.(usageReporter); ok {
			minuteRequests, minuteTokens, dailyRequests, dailyTokens := u.Usage()
			body["llm_usage"] = gin.H{
				"minute_requests": minuteRequests,
				"minute_tokens":   minuteTokens,
				"daily_requests":  dailyRequests,
				"daily_tokens":    dailyTokens,
			}
		}

		c.JSON(status, body)
	})
}

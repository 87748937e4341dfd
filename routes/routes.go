package routes

import (
	"net/http"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/auth"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/store"
	"mail-archive-search/middleware"
	"mail-archive-search/services"

	"github.com/gin-gonic/gin"
)

// Deps carries everything the handlers need. It is built once in main.
type Deps struct {
	Config  *config.Config
	Repo    store.Repository
	Storage *attachment.Storage
	Imports *services.ImportService
	Search  *services.SearchService
	Chat    *services.ChatService
	LLM     ai.ChatCompleter
}

// SetupRoutes registers the health check and the /api group.
func SetupRoutes(router *gin.Engine, deps *Deps, authMiddleware *middleware.AuthMiddleware, limiter gin.HandlerFunc) {
	SetupHealthRoutes(router, deps)

	api := router.Group("/api")

	// The limiter runs after the guard so it can key on the token subject.
	read := gin.HandlersChain{authMiddleware.RequireScope(auth.ScopeRead)}
	write := gin.HandlersChain{authMiddleware.RequireScope(auth.ScopeWrite)}
	if limiter != nil {
		read = append(read, limiter)
		write = append(write, limiter)
	}

	SetupImportRoutes(api, deps, write)
	SetupSearchRoutes(api, deps, read)
	SetupChatRoutes(api, deps, read)
	SetupMailRoutes(api, deps, read, write)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error_code": "not_found",
			"message":    "Route not found",
		})
	})
}

// with appends h to a copy of chain.
func with(chain gin.HandlersChain, h gin.HandlerFunc) gin.HandlersChain {
	out := make(gin.HandlersChain, 0, len(chain)+1)
	out = append(out, chain...)
	return append(out, h)
}

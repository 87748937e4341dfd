package routes

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"mail-archive-search/internal/archive"
	"mail-archive-search/middleware"
	"mail-archive-search/services"
	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
)

func SetupImportRoutes(api *gin.RouterGroup, deps *Deps, guard gin.HandlersChain) {
	api.POST("/imports", with(guard, HandleImport(deps))...)
}

// HandleImport ingests one uploaded archive. The response is sent once the
// messages are stored; enrichment continues afterwards.
func HandleImport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
					"request_too_large", "Archive exceeds maximum upload size", nil)
				return
			}
			utils.RespondWithBadRequest(c, "No archive file provided", gin.H{"field": "file"})
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		if _, err := archive.DetectFormat(name); err != nil {
			utils.RespondWithErr(c, err)
			return
		}

		opts := services.ImportOptions{SaveAttachments: true}
		if v := c.PostForm("save_attachments"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				utils.RespondWithBadRequest(c, "save_attachments must be a boolean", nil)
				return
			}
			opts.SaveAttachments = b
		}
		if v := c.PostForm("dry_run"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				utils.RespondWithBadRequest(c, "dry_run must be a boolean", nil)
				return
			}
			opts.DryRun = b
		}

		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), utils.ImportTimeout)
		defer cancel()

		result, err := deps.Imports.Import(ctx, name, file, opts)
		if err != nil {
			middleware.Log(c).Warn("Import rejected", "file", name, "error", err)
			utils.RespondWithErr(c, err)
			return
		}

		status := http.StatusCreated
		if opts.DryRun {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

package routes

import (
	"mime"
	"net/http"
	"os"

	"mail-archive-search/middleware"
	"mail-archive-search/models"
	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
)

func SetupMailRoutes(api *gin.RouterGroup, deps *Deps, read, write gin.HandlersChain) {
	mails := api.Group("/mails", read...)

	mails.GET("/:id", func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		m, err := deps.Repo.GetMail(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		events, err := deps.Repo.ListEvents(ctx, m.ID)
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		if events == nil {
			events = []models.Event{}
		}
		c.JSON(http.StatusOK, gin.H{
			"mail":   m,
			"events": events,
		})
	})

	mails.GET("/:id/attachments/:name", func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		m, err := deps.Repo.GetMail(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}

		var ref *models.AttachmentRef
		for i := range m.Attachments {
			if m.Attachments[i].StoredName == c.Param("name") {
				ref = &m.Attachments[i]
				break
			}
		}
		if ref == nil || deps.Storage == nil {
			utils.RespondWithNotFound(c, "Attachment not found")
			return
		}

		f, err := deps.Storage.Open(m.ID, ref.StoredName)
		if err != nil {
			if os.IsNotExist(err) {
				utils.RespondWithNotFound(c, "Attachment file missing")
				return
			}
			utils.RespondWithErr(c, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}

		if ref.MimeType != "" {
			c.Header("Content-Type", ref.MimeType)
		}
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": ref.OriginalName,
		}))
		http.ServeContent(c.Writer, c.Request, ref.OriginalName, info.ModTime(), f)
	})

	api.GET("/events", with(read, listEvents(deps))...)
	api.DELETE("/corpus", with(write, resetCorpus(deps))...)
}

func listEvents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		events, err := deps.Repo.ListEvents(ctx, c.Query("mail_id"))
		if err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		if events == nil {
			events = []models.Event{}
		}
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"count":  len(events),
		})
	}
}

func resetCorpus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), utils.SearchTimeout)
		defer cancel()

		if err := deps.Repo.Reset(ctx); err != nil {
			utils.RespondWithErr(c, err)
			return
		}
		if deps.Storage != nil {
			if err := deps.Storage.Reset(); err != nil {
				middleware.Log(c).Error("Failed to remove attachment folders", "error", err)
				utils.RespondWithInternalError(c, "Corpus cleared but attachment folders remain", nil)
				return
			}
		}

		middleware.Log(c).Info("Corpus reset")
		c.JSON(http.StatusOK, gin.H{"message": "Corpus cleared"})
	}
}

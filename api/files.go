package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

type uploadResponse struct {
	Ref string `json:"ref"`
}

func uploadFile(files domain.AttachmentStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, logger, domain.NewValidationError("file", "is required"))
		}
		src, err := fh.Open()
		if err != nil {
			return writeError(c, logger, err)
		}
		defer src.Close()

		ref, err := files.Save(c.Request().Context(), fh.Filename, src)
		if err != nil {
			return writeError(c, logger, err)
		}
		logger.WithFields(log.Fields{"ref": ref, "user": principalFrom(c).ID, "size": fh.Size}).Debug("attachment stored")
		return c.JSON(http.StatusCreated, uploadResponse{Ref: ref})
	}
}

func downloadFile(files domain.AttachmentStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		rc, err := files.Open(c.Request().Context(), c.Param("ref"))
		if err != nil {
			return writeError(c, logger, err)
		}
		defer rc.Close()
		return c.Stream(http.StatusOK, echo.MIMEOctetStream, rc)
	}
}

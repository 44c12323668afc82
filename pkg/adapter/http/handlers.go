package http

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/content"
)

// sniffLen is how much of a download is buffered for content sniffing.
const sniffLen = 3072

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// upload stores the multipart "file" field under the "id" field.
// The optional "tags" field is a comma separated list.
func (a *HTTPAdapter) upload(c *gin.Context) {
	if a.config.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.config.MaxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
			return
		}
		fail(c, http.StatusBadRequest, "No file was uploaded")
		return
	}

	id := c.PostForm("id")
	if id == "" {
		fail(c, http.StatusBadRequest, "No id was sent")
		return
	}

	var tags []string
	if raw := c.PostForm("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	file, err := header.Open()
	if err != nil {
		logger.Error("HTTP upload: failed to open part for %s: %v", id, err)
		fail(c, http.StatusInternalServerError, "Unable to read uploaded file")
		return
	}
	defer func() { _ = file.Close() }()

	if err := a.svc.Write(c.Request.Context(), id, file, header.Filename, tags); err != nil {
		failErr(c, err)
		return
	}

	c.JSON(http.StatusOK, response{OK: true})
}

// download streams a file. The erase query parameter accepts exactly
// "true" or "false"; anything else uses the configured default.
func (a *HTTPAdapter) download(c *gin.Context) {
	var opts []content.ReadOption
	switch c.Query("erase") {
	case "true":
		opts = append(opts, content.WithErase(true))
	case "false":
		opts = append(opts, content.WithErase(false))
	}

	rc, rec, err := a.svc.Read(c.Request.Context(), c.Param("id"), opts...)
	if err != nil {
		failErr(c, err)
		return
	}
	defer func() { _ = rc.Close() }()

	body, ctype := contentType(rec.Filename, rc)

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	c.Header("X-Suggested-Filename", rec.Filename)
	c.Header("Content-Type", ctype)
	c.Status(http.StatusOK)

	// Headers are already sent, so a failure here can only abort the body.
	if _, err := io.Copy(c.Writer, body); err != nil {
		logger.Warn("HTTP download of %s interrupted: %v", rec.ID, err)
		_ = c.Error(err)
	}
}

// contentType picks a media type from the filename extension, then from the
// leading bytes, then falls back to application/octet-stream. It returns the
// reader the body must be copied from.
//
// Streams from the content service are sniffed with Peek, so a small file is
// not reported as fully read before any of it reached the client.
func contentType(filename string, r io.Reader) (io.Reader, string) {
	if ext := filepath.Ext(filename); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return r, t
		}
	}

	p, ok := r.(content.Peeker)
	if !ok {
		br := bufio.NewReaderSize(r, sniffLen)
		r, p = br, br
	}
	head, _ := p.Peek(sniffLen)
	if len(head) > 0 {
		return r, mimetype.Detect(head).String()
	}
	return r, "application/octet-stream"
}

func (a *HTTPAdapter) metadata(c *gin.Context) {
	rec, err := a.svc.GetMetadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *HTTPAdapter) expire(c *gin.Context) {
	if err := a.svc.Expire(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response{OK: true})
}

func (a *HTTPAdapter) purge(c *gin.Context) {
	if err := a.svc.Purge(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, response{OK: true})
}

func (a *HTTPAdapter) healthcheck(c *gin.Context) {
	if err := a.health.Healthcheck(c.Request.Context()); err != nil {
		logger.Warn("HTTP healthcheck failed: %v", err)
		fail(c, http.StatusServiceUnavailable, "metadata store unavailable")
		return
	}
	c.JSON(http.StatusOK, response{OK: true})
}

// failErr maps a content service error to a response. Details of server
// side failures are logged by the service and not echoed to the client.
func failErr(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, content.ErrInvalidArgument):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, content.ErrNotFound):
		fail(c, http.StatusNotFound, "File not found")
	default:
		fail(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, response{OK: false, Error: msg})
}

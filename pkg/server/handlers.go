package server

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/archive"
	"github.com/denysvitali/sharedfiles-go/pkg/metrics"
	"github.com/denysvitali/sharedfiles-go/pkg/store"
	"github.com/denysvitali/sharedfiles-go/pkg/telemetry"
	"github.com/denysvitali/sharedfiles-go/pkg/tree"
)

// handleAlive handles health check requests
func (s *Server) handleAlive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleServerInfo reports uptime, tree size and disk usage of the root
func (s *Server) handleServerInfo(c *gin.Context) {
	resp := models.ServerInfoResponse{
		Uptime:    s.store.Uptime().Seconds(),
		Root:      s.store.Root(),
		Telemetry: s.config.Telemetry.Enabled,
	}

	if entries, err := s.store.Tree(c.Request.Context()); err != nil {
		s.logger.Warnf("Failed to count tree entries: %v", err)
	} else {
		resp.TreeSize = tree.Count(entries)
	}

	if usage, err := s.store.DiskUsage(); err != nil {
		s.logger.Warnf("Failed to get disk usage of %s: %v", s.store.Root(), err)
	} else {
		resp.Disk = usage
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIndex(c *gin.Context) {
	entries, ok := s.listTree(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Tree":        entries,
		"ScratchFile": s.store.ScratchFile(),
	})
}

func (s *Server) handleTree(c *gin.Context) {
	entries, ok := s.listTree(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) listTree(c *gin.Context) ([]models.Entry, bool) {
	entries, err := s.store.Tree(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to list files", err)
		return nil, false
	}
	metrics.SetTreeSize(tree.Count(entries))
	return entries, true
}

// handleUpload writes every part of the "files" field below the root. Parts
// without a file name are skipped and failures are logged per file. A body
// that is not multipart stores nothing.
func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()

	form, err := c.MultipartForm()
	if err != nil {
		s.logger.WithField("request_id", c.GetString(requestIDKey)).Warnf("Ignoring upload without a multipart body: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	for _, fh := range form.File["files"] {
		name := uploadName(fh)
		if name == "" {
			continue
		}

		n, err := s.saveUpload(c, name, fh)
		metrics.RecordUpload(n, err)
		if err != nil {
			s.logger.WithError(err).Warnf("Failed to upload %s", name)
			continue
		}

		if s.config.Telemetry.Enabled {
			telemetry.ReportJSON(ctx, s.logger, "file_upload", map[string]interface{}{
				"path": name,
				"size": n,
			})
		}
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) saveUpload(c *gin.Context, name string, fh *multipart.FileHeader) (int64, error) {
	f, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return s.store.Upload(c.Request.Context(), name, f)
}

// uploadName returns the client supplied file name including any folder
// components, which multipart.FileHeader.Filename strips
func uploadName(fh *multipart.FileHeader) string {
	if _, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition")); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	return strings.TrimSpace(fh.Filename)
}

func (s *Server) handleServeFile(c *gin.Context) {
	s.serveFile(c, false)
}

func (s *Server) handleDownloadFile(c *gin.Context) {
	s.serveFile(c, true)
}

func (s *Server) serveFile(c *gin.Context, attachment bool) {
	f, info, err := s.store.Open(c.Request.Context(), pathParam(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "File not found"})
			return
		}
		s.fail(c, http.StatusInternalServerError, "failed to open file", err)
		return
	}
	defer f.Close()

	if attachment {
		c.Header("Content-Disposition", contentDisposition(info.Name()))
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	if n := c.Writer.Size(); n > 0 {
		metrics.RecordDownload(int64(n))
	}
}

func (s *Server) handleDownloadFolder(c *gin.Context) {
	ctx := c.Request.Context()
	folder := pathParam(c)

	a, err := s.store.Archive(ctx, folder)
	if err != nil {
		metrics.RecordArchive(0, err)
		switch {
		case errors.Is(err, archive.ErrNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Folder not found"})
		case errors.Is(err, archive.ErrNotDirectory):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		case errors.Is(err, archive.ErrTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: err.Error()})
		default:
			s.fail(c, http.StatusInternalServerError, "failed to build archive", err)
		}
		return
	}
	metrics.RecordArchive(a.Entries, nil)

	if s.config.Telemetry.Enabled {
		telemetry.ReportJSON(ctx, s.logger, "folder_download", map[string]interface{}{
			"path":    folder,
			"entries": a.Entries,
			"size":    a.Size(),
		})
	}

	c.DataFromReader(http.StatusOK, a.Size(), "application/zip", a.Reader, map[string]string{
		"Content-Disposition": contentDisposition(a.Name),
	})
	metrics.RecordDownload(a.Size())
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	err := s.store.DeleteFile(c.Request.Context(), pathParam(c))
	metrics.RecordDelete("file", err)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to delete file", err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleDeleteFolder(c *gin.Context) {
	err := s.store.DeleteFolder(c.Request.Context(), pathParam(c))
	metrics.RecordDelete("folder", err)
	if err != nil {
		if errors.Is(err, store.ErrRootPath) || errors.Is(err, store.ErrNotDirectory) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		s.fail(c, http.StatusInternalServerError, "failed to delete folder", err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// handleCreateText saves the scratch text; a missing field saves ""
func (s *Server) handleCreateText(c *gin.Context) {
	if err := s.store.WriteText(c.Request.Context(), c.PostForm("content")); err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to save text", err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleReadText(c *gin.Context) {
	content, err := s.store.ReadText(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read text", err)
		return
	}

	c.HTML(http.StatusOK, "local_text.html", gin.H{
		"Content":     content,
		"ScratchFile": s.store.ScratchFile(),
	})
}

func (s *Server) handleGetText(c *gin.Context) {
	content, err := s.store.ReadText(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read text", err)
		return
	}
	c.JSON(http.StatusOK, models.TextContent{Content: content})
}

func (s *Server) handlePutText(c *gin.Context) {
	var req models.TextContent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.store.WriteText(c.Request.Context(), req.Content); err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to save text", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail logs err and answers with a JSON error
func (s *Server) fail(c *gin.Context, status int, msg string, err error) {
	_ = c.Error(err)
	s.logger.WithField("request_id", c.GetString(requestIDKey)).Errorf("%s: %v", msg, err)
	c.JSON(status, models.ErrorResponse{Error: msg + ": " + err.Error()})
}

// pathParam returns the wildcard path without its leading slash
func pathParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// urlPath percent-encodes every segment of a root-relative path so names
// holding '#' or '?' survive in links
func urlPath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func contentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

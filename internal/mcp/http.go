package mcp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeYAML = "application/yaml; charset=utf-8"
)

// Router returns the HTTP handler of server mode. The MCP SSE transport is
// mounted on /sse and /message when sse is not nil.
func (s *Server) Router(sse *server.SSEServer) *gin.Engine {
	if s.config.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if s.config.IsDebug() {
		r.Use(gin.Logger())
	}

	if sse != nil {
		r.GET("/sse", gin.WrapH(sse.SSEHandler()))
		r.POST("/message", gin.WrapH(sse.MessageHandler()))
	}

	r.GET("/healthz", s.handleHealthz)
	r.GET("/documents", s.handleDocuments)
	r.GET("/documents/:id/export.csv", s.handleExport(contentTypeCSV))
	r.GET("/documents/:id/export.yaml", s.handleExport(contentTypeYAML))

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"name":    s.config.ServerName,
		"version": s.config.Version,
		"open":    len(s.workspace.List()),
	})
}

func (s *Server) handleDocuments(c *gin.Context) {
	docs, err := s.workspace.Store().Documents(c.Request.Context())
	if err != nil {
		s.httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// handleExport serves the stored annotations of a document. It needs no open
// session.
func (s *Server) handleExport(contentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var (
			data []byte
			err  error
		)
		if contentType == contentTypeCSV {
			data, err = s.exporter.ExportCSV(c.Request.Context(), id)
		} else {
			data, err = s.exporter.ExportYAML(c.Request.Context(), id)
		}
		if err != nil {
			s.httpError(c, err)
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

func (s *Server) httpError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch annerrors.TypeOf(err) {
	case annerrors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case annerrors.ErrorTypeInvalidArgument:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/fieldbind"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/session"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

// Results

type openResult struct {
	Document    session.Info       `json:"document"`
	State       session.ViewState  `json:"state"`
	Annotations []store.Annotation `json:"annotations"`
}

type pointerResult struct {
	Accepted  *bool              `json:"accepted,omitempty"`
	Discarded string             `json:"discarded,omitempty"`
	Candidate *capture.Candidate `json:"candidate,omitempty"`
	Prompt    *fieldbind.Prompt  `json:"prompt,omitempty"`
	State     session.ViewState  `json:"state"`
}

type viewResult struct {
	session.ViewState
	Warning  string                       `json:"warning,omitempty"`
	Warnings []*annerrors.AnnotationError `json:"warnings,omitempty"`
}

type bindResult struct {
	Annotation store.Annotation             `json:"annotation"`
	Warning    string                       `json:"warning,omitempty"`
	Warnings   []*annerrors.AnnotationError `json:"warnings,omitempty"`
}

type undoResult struct {
	Undone   store.Annotation  `json:"undone"`
	Restored *store.Annotation `json:"restored,omitempty"`
	State    session.ViewState `json:"state"`
}

type previewCacheInfo struct {
	pagecache.Stats
	Entries []string `json:"entries"`
}

type schemaResult struct {
	Fields []schema.Field     `json:"fields"`
	Prompt *fieldbind.Prompt  `json:"prompt,omitempty"`
	State  *session.ViewState `json:"state,omitempty"`
}

type serverInfoResult struct {
	ServerName       string           `json:"server_name"`
	Version          string           `json:"version"`
	Mode             string           `json:"mode"`
	PDFDirectory     string           `json:"pdf_directory"`
	DataDirectory    string           `json:"data_directory"`
	DBDriver         string           `json:"db_driver"`
	MaxFileSize      int64            `json:"max_file_size"`
	DateOrder        string           `json:"date_order"`
	Open             []session.Info   `json:"open_documents"`
	StoredDocuments  []string         `json:"stored_documents"`
	Tools            []ToolInfo       `json:"tools"`
	AvailableFields  []string         `json:"fields"`
	MinGestureAreaPx float64          `json:"min_gesture_area_px2"`
	PreviewCache     previewCacheInfo `json:"preview_cache"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) toolError(err error) (*mcp.CallToolResult, error) {
	if s.config.IsDebug() {
		log.Printf("Tool error (%s): %v", annerrors.TypeOf(err), err)
	}
	return mcp.NewToolResultError(err.Error()), nil
}

// collect gathers the non-fatal errors of a tool call for its result
func (s *Server) collect(documentID string, errs ...error) *annerrors.ErrorCollection {
	ec := annerrors.NewErrorCollection(documentID)
	for _, err := range errs {
		ec.AddError(err)
	}
	if errCount, warnCount := ec.Count(); s.config.IsDebug() && errCount+warnCount > 0 {
		log.Printf("Tool warnings for %s: %s", documentID, ec.Summary())
	}
	return ec
}

func warningText(ec *annerrors.ErrorCollection) string {
	msgs := make([]string, 0, len(ec.Warnings))
	for _, w := range ec.Warnings {
		msgs = append(msgs, w.Error())
	}
	return strings.Join(msgs, "; ")
}

func invalidArgument(err error) error {
	return annerrors.Wrap(annerrors.ErrorTypeInvalidArgument, "invalid arguments", err)
}

// Argument helpers

func (s *Server) session(request mcp.CallToolRequest) (*session.Session, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return nil, invalidArgument(err)
	}
	return s.workspace.Get(id)
}

func point(request mcp.CallToolRequest) (geometry.Point, error) {
	x, err := request.RequireFloat("x")
	if err != nil {
		return geometry.Point{}, invalidArgument(err)
	}
	y, err := request.RequireFloat("y")
	if err != nil {
		return geometry.Point{}, invalidArgument(err)
	}
	return geometry.Point{X: x, Y: y}, nil
}

// optionalInt returns nil when the argument is absent
func optionalInt(request mcp.CallToolRequest, name string) (*int, error) {
	v, ok := request.GetArguments()[name]
	if !ok || v == nil {
		return nil, nil
	}
	var i int
	switch n := v.(type) {
	case int:
		i = n
	case float64:
		if n != math.Trunc(n) {
			return nil, annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "%s must be an integer", name)
		}
		i = int(n)
	default:
		return nil, annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "%s must be a number", name)
	}
	if i < 0 {
		return nil, annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "%s cannot be negative", name)
	}
	return &i, nil
}

// Documents

func (s *Server) handleDocOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}

	sess, err := s.workspace.Open(ctx, path)
	if err != nil {
		return s.toolError(err)
	}

	width := request.GetFloat("width", 0)
	height := request.GetFloat("height", 0)
	if width > 0 && height > 0 {
		if err := sess.Resize(width, height); err != nil {
			return s.toolError(err)
		}
		if _, err := sess.FitWidth(); err != nil {
			return s.toolError(err)
		}
	} else {
		sess.SchedulePrefetch()
	}

	return jsonResult(openResult{
		Document: session.Info{
			DocumentID:  sess.ID(),
			Name:        sess.Name(),
			PageCount:   sess.PageCount(),
			Annotations: len(sess.Annotations()),
			Unsaved:     sess.Unsaved(),
		},
		State:       sess.State(),
		Annotations: sess.Annotations(),
	})
}

func (s *Server) handleDocClose(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	if err := s.workspace.Close(id); err != nil {
		return s.toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Closed document %s", id)), nil
}

func (s *Server) handleDocList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.workspace.List())
}

// View

func (s *Server) handleViewZoom(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	action, err := request.RequireString("action")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}

	switch action {
	case "in":
		_, err = sess.ZoomIn()
	case "out":
		_, err = sess.ZoomOut()
	case "fit_width":
		_, err = sess.FitWidth()
	case "set":
		var z float64
		if z, err = request.RequireFloat("zoom"); err != nil {
			return s.toolError(invalidArgument(err))
		}
		_, err = sess.SetZoom(z)
	case "at":
		var factor float64
		if factor, err = request.RequireFloat("factor"); err != nil {
			return s.toolError(invalidArgument(err))
		}
		var anchor geometry.Point
		if anchor, err = point(request); err != nil {
			return s.toolError(err)
		}
		_, err = sess.ZoomAt(factor, anchor)
	default:
		err = annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "unknown zoom action %q", action)
	}
	return s.stateResult(sess, err)
}

// stateResult reports the view state. A clamped zoom is applied and only
// reported as a warning.
func (s *Server) stateResult(sess *session.Session, err error) (*mcp.CallToolResult, error) {
	if err != nil && annerrors.TypeOf(err) != annerrors.ErrorTypeInvalidZoom {
		return s.toolError(err)
	}
	ec := s.collect(sess.ID(), err)
	return jsonResult(viewResult{ViewState: sess.State(), Warning: warningText(ec), Warnings: ec.Warnings})
}

func (s *Server) handleViewWheel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	delta, err := request.RequireFloat("delta")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	cursor, err := point(request)
	if err != nil {
		return s.toolError(err)
	}
	_, err = sess.Wheel(delta, request.GetBool("zoom", false), cursor)
	return s.stateResult(sess, err)
}

func (s *Server) handleViewPan(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	dx, err := request.RequireFloat("dx")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	dy, err := request.RequireFloat("dy")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	sess.PanBy(geometry.Point{X: dx, Y: dy})
	return jsonResult(sess.State())
}

func (s *Server) handleViewResize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	width, err := request.RequireFloat("width")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	height, err := request.RequireFloat("height")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	if err := sess.Resize(width, height); err != nil {
		return s.toolError(err)
	}
	return jsonResult(sess.State())
}

func (s *Server) handleViewGotoPage(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}

	if field := request.GetString("field", ""); field != "" {
		lineItem, err := optionalInt(request, "line_item")
		if err != nil {
			return s.toolError(err)
		}
		if err := sess.ScrollToAnnotation(field, lineItem); err != nil {
			return s.toolError(err)
		}
		return jsonResult(sess.State())
	}

	page, err := request.RequireInt("page")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	if err := sess.ScrollToPage(page); err != nil {
		return s.toolError(err)
	}
	return jsonResult(sess.State())
}

// Pointer

func (s *Server) handlePointerDown(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	p, err := point(request)
	if err != nil {
		return s.toolError(err)
	}
	accepted := sess.PointerDown(p, capture.Modifiers{
		Shift: request.GetBool("shift", false),
		Ctrl:  request.GetBool("ctrl", false),
		Alt:   request.GetBool("alt", false),
	})
	return jsonResult(pointerResult{Accepted: &accepted, State: sess.State()})
}

func (s *Server) handlePointerMove(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	p, err := point(request)
	if err != nil {
		return s.toolError(err)
	}
	sess.PointerMove(p)
	return jsonResult(pointerResult{State: sess.State()})
}

func (s *Server) handlePointerUp(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	p, err := point(request)
	if err != nil {
		return s.toolError(err)
	}

	cand, err := sess.PointerUp(p)
	if err != nil {
		if annerrors.TypeOf(err).IsSilent() {
			return jsonResult(pointerResult{Discarded: err.Error(), State: sess.State()})
		}
		return s.toolError(err)
	}
	if cand == nil {
		return jsonResult(pointerResult{State: sess.State()})
	}
	prompt := sess.Prompt()
	return jsonResult(pointerResult{Candidate: cand, Prompt: &prompt, State: sess.State()})
}

func (s *Server) handlePointerCancel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	sess.CancelGesture()
	if request.GetBool("discard_pending", false) {
		sess.DiscardPending()
	}
	return jsonResult(pointerResult{State: sess.State()})
}

// Fields

func (s *Server) handleFieldSchema(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := schemaResult{Fields: s.schema.Fields()}
	if id := request.GetString("document_id", ""); id != "" {
		sess, err := s.workspace.Get(id)
		if err != nil {
			return s.toolError(err)
		}
		prompt := sess.Prompt()
		state := sess.State()
		result.Prompt = &prompt
		result.State = &state
	}
	return jsonResult(result)
}

func (s *Server) handleFieldBind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	field, err := request.RequireString("field")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	lineItem, err := optionalInt(request, "line_item")
	if err != nil {
		return s.toolError(err)
	}

	choice := fieldbind.Choice{
		Field:    field,
		LineItem: lineItem,
		NewItem:  request.GetBool("new_item", false),
	}
	if text, ok := request.GetArguments()["text"].(string); ok {
		choice.Text = &text
	}

	a, err := sess.Bind(ctx, choice)
	switch {
	case err == nil, annerrors.TypeOf(err) == annerrors.ErrorTypeUnparseableDate:
		ec := s.collect(sess.ID(), err)
		return jsonResult(bindResult{Annotation: a, Warning: warningText(ec), Warnings: ec.Warnings})
	case annerrors.TypeOf(err) == annerrors.ErrorTypePersistenceWriteFailure:
		return s.toolError(fmt.Errorf("%w (kept unsaved, run annotations_retry)", err))
	default:
		return s.toolError(err)
	}
}

func (s *Server) handleAnnotationUndo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	undone, restored, err := sess.UndoLast(ctx)
	if err != nil {
		return s.toolError(err)
	}
	return jsonResult(undoResult{Undone: undone, Restored: restored, State: sess.State()})
}

// Annotations

func (s *Server) handleAnnotationsList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	page, err := optionalInt(request, "page")
	if err != nil {
		return s.toolError(err)
	}

	var list []store.Annotation
	if request.GetBool("history", false) {
		if list, err = sess.History(ctx); err != nil {
			return s.toolError(err)
		}
	} else {
		list = sess.Annotations()
	}

	if page != nil {
		filtered := list[:0:0]
		for _, a := range list {
			if a.Page == *page {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []store.Annotation{}
	}
	return jsonResult(list)
}

func (s *Server) handleAnnotationDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}

	if request.GetBool("all", false) {
		if err := sess.DeleteAll(ctx); err != nil {
			return s.toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted all annotations of %s", sess.ID())), nil
	}

	field, err := request.RequireString("field")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}
	lineItem, err := optionalInt(request, "line_item")
	if err != nil {
		return s.toolError(err)
	}
	if err := sess.Delete(ctx, field, lineItem); err != nil {
		return s.toolError(err)
	}

	text := fmt.Sprintf("Deleted %s", field)
	if lineItem != nil {
		text += fmt.Sprintf(" of line item %d", *lineItem)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAnnotationsRetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	written, err := sess.RetryPending(ctx)
	if err != nil {
		return s.toolError(fmt.Errorf("wrote %d, %d still unsaved: %w", written, sess.Unsaved(), err))
	}
	return jsonResult(map[string]int{"written": written, "unsaved": sess.Unsaved()})
}

// Rendering

func (s *Server) handlePageRender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	page, err := request.RequireInt("page")
	if err != nil {
		return s.toolError(invalidArgument(err))
	}

	img, err := sess.RenderPage(ctx, page, request.GetFloat("scale", 0))
	if err != nil {
		return s.toolError(err)
	}
	data, err := engine.EncodePNG(img)
	if err != nil {
		return s.toolError(err)
	}

	b := img.Bounds()
	text := fmt.Sprintf("Page %d of %s, %dx%d pixels", page, sess.Name(), b.Dx(), b.Dy())
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(data), "image/png"), nil
}

// Export

func (s *Server) handleExportCSV(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	data, err := sess.ExportCSV(ctx)
	if err != nil {
		return s.toolError(err)
	}
	return s.exportResult(request, sess.ExportFileName(), data)
}

func (s *Server) handleExportYAML(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(request)
	if err != nil {
		return s.toolError(err)
	}
	data, err := sess.ExportYAML(ctx)
	if err != nil {
		return s.toolError(err)
	}
	return s.exportResult(request, strings.TrimSuffix(sess.ExportFileName(), ".csv")+".yaml", data)
}

func (s *Server) exportResult(request mcp.CallToolRequest, name string, data []byte) (*mcp.CallToolResult, error) {
	if !request.GetBool("save", false) {
		return mcp.NewToolResultText(string(data)), nil
	}
	if s.config.DataDirectory == "" {
		return s.toolError(annerrors.New(annerrors.ErrorTypeInvalidArgument, "no data directory configured"))
	}
	if err := os.MkdirAll(s.config.DataDirectory, config.DefaultDirPerm); err != nil {
		return s.toolError(fmt.Errorf("cannot create data directory: %w", err))
	}
	path := filepath.Join(s.config.DataDirectory, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return s.toolError(fmt.Errorf("cannot write %s: %w", path, err))
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved %s (%d bytes)\n\n%s", path, len(data), data)), nil
}

// Info

func (s *Server) handleServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stored, err := s.workspace.Store().Documents(ctx)
	if err != nil {
		return s.toolError(err)
	}
	if stored == nil {
		stored = []string{}
	}
	return jsonResult(serverInfoResult{
		ServerName:       s.config.ServerName,
		Version:          s.config.Version,
		Mode:             s.config.Mode,
		PDFDirectory:     s.config.PDFDirectory,
		DataDirectory:    s.config.DataDirectory,
		DBDriver:         s.config.DBDriver,
		MaxFileSize:      s.config.MaxFileSize,
		DateOrder:        s.config.DateOrder,
		Open:             s.workspace.List(),
		StoredDocuments:  stored,
		Tools:            s.ToolInfos(),
		AvailableFields:  s.schema.Names(),
		MinGestureAreaPx: s.config.MinGestureArea,
		PreviewCache:     previewCache(s.workspace.Previews()),
	})
}

func previewCache(c *pagecache.Cache) previewCacheInfo {
	keys := c.Keys()
	entries := make([]string, len(keys))
	for i, k := range keys {
		entries[i] = k.String()
	}
	return previewCacheInfo{Stats: c.Stats(), Entries: entries}
}

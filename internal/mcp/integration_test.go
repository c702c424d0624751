package mcp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

// page 1 starts at canvas y 792 + 20
const page1 = 812.0

func args(kv ...any) map[string]any {
	out := map[string]any{"document_id": testDocID}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

// gesture presses, drags and releases the pointer with shift or ctrl held
func gesture(t *testing.T, s *Server, mod string, x0, y0, x1, y1 float64) pointerResult {
	t.Helper()
	var down pointerResult
	callJSON(t, s.handlePointerDown, args("x", x0, "y", y0, mod, true), &down)
	require.NotNil(t, down.Accepted)
	require.True(t, *down.Accepted)

	var moved pointerResult
	callJSON(t, s.handlePointerMove, args("x", x1, "y", y1), &moved)
	assert.Equal(t, capture.StateDragging.String(), moved.State.Capture)

	var up pointerResult
	callJSON(t, s.handlePointerUp, args("x", x1, "y", y1), &up)
	return up
}

func TestServerIntegration_AnnotateAndExport(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	up := gesture(t, s, "shift", 100, 100, 200, 130)
	require.NotNil(t, up.Candidate)
	require.NotNil(t, up.Prompt)
	assert.Equal(t, 0, up.Candidate.Page)
	assert.Equal(t, "12-31-23", up.Prompt.PreviewText)
	require.NotNil(t, up.State.Pending)

	var date bindResult
	callJSON(t, s.handleFieldBind, args("field", "rfq_date"), &date)
	assert.Equal(t, "2023-12-31", date.Annotation.NormalizedValue)
	assert.Empty(t, date.Warning)

	up = gesture(t, s, "ctrl", 50, page1+98, 100, page1+110)
	require.NotNil(t, up.Candidate)
	assert.True(t, up.Candidate.Snapped)

	var part bindResult
	callJSON(t, s.handleFieldBind, args("field", "part_number", "new_item", true), &part)
	require.NotNil(t, part.Annotation.LineItem)
	assert.Equal(t, 0, *part.Annotation.LineItem)
	assert.Equal(t, "A-1001", part.Annotation.RawValue)
	assert.Equal(t, "snap", part.Annotation.Mode)

	var list []store.Annotation
	callJSON(t, s.handleAnnotationsList, args(), &list)
	require.Len(t, list, 2)
	assert.Equal(t, "rfq_date", list[0].FieldName)

	callJSON(t, s.handleAnnotationsList, args("page", 1), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "part_number", list[0].FieldName)

	csv := extractTextFromResult(call(t, s.handleExportCSV, args()))
	lines := strings.Split(strings.TrimSuffix(csv, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(schema.Default().Names(), ","), lines[0])
	assert.Contains(t, lines[1], "2023-12-31")
	assert.Contains(t, lines[1], "A-1001")

	result := call(t, s.handleExportYAML, args("save", true))
	require.False(t, result.IsError, extractTextFromResult(result))
	saved := filepath.Join(s.config.DataDirectory, "rfq-0001_annotations.yaml")
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "document: "+testDocID)
	assert.Contains(t, extractTextFromResult(result), saved)

	var state viewResult
	callJSON(t, s.handleViewGotoPage, args("field", "part_number", "line_item", 0), &state)
	assert.Equal(t, 1, state.CurrentPage)

	result = call(t, s.handleAnnotationDelete, args("field", "part_number", "line_item", 0))
	require.False(t, result.IsError, extractTextFromResult(result))
	callJSON(t, s.handleAnnotationsList, args(), &list)
	assert.Len(t, list, 1)

	callJSON(t, s.handleAnnotationsList, args("history", true), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "deleted", list[0].Reason)

	result = call(t, s.handleAnnotationDelete, args("field", "part_number", "line_item", 0))
	assert.True(t, result.IsError, "already deleted")

	result = call(t, s.handleAnnotationDelete, args("all", true))
	require.False(t, result.IsError)
	callJSON(t, s.handleAnnotationsList, args(), &list)
	assert.Empty(t, list)
}

func TestServerIntegration_PointerEdgeCases(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	up := gesture(t, s, "shift", 100, 100, 102, 102)
	assert.Nil(t, up.Candidate)
	assert.NotEmpty(t, up.Discarded)

	result := call(t, s.handleFieldBind, args("field", "rfq_date"))
	assert.True(t, result.IsError, "nothing to bind")

	var down pointerResult
	callJSON(t, s.handlePointerDown, args("x", 10.0, "y", 10.0), &down)
	assert.True(t, *down.Accepted)
	assert.Equal(t, capture.StatePanning.String(), down.State.Capture)
	var idle pointerResult
	callJSON(t, s.handlePointerCancel, args(), &idle)
	assert.Equal(t, capture.StateIdle.String(), idle.State.Capture)

	up = gesture(t, s, "shift", 100, 100, 200, 130)
	require.NotNil(t, up.Candidate)

	result = call(t, s.handleFieldBind, args("field", "no_such_field"))
	assert.True(t, result.IsError)
	var schemaRes schemaResult
	callJSON(t, s.handleFieldSchema, map[string]any{"document_id": testDocID}, &schemaRes)
	assert.Len(t, schemaRes.Fields, schema.Default().Len())
	require.NotNil(t, schemaRes.State)
	assert.NotNil(t, schemaRes.State.Pending, "unbound candidate is kept")

	var cancelled pointerResult
	callJSON(t, s.handlePointerCancel, args("discard_pending", true), &cancelled)
	assert.Nil(t, cancelled.State.Pending)
}

func TestServerIntegration_UnparseableDate(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	gesture(t, s, "shift", 100, 100, 200, 130)
	var res bindResult
	callJSON(t, s.handleFieldBind, args("field", "due_date", "text", "next tuesday"), &res)
	assert.NotEmpty(t, res.Warning)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, annerrors.ErrorTypeUnparseableDate, res.Warnings[0].Type)
	assert.Equal(t, "next tuesday", res.Annotation.RawValue)
	assert.False(t, res.Annotation.Normalized)
}

func TestServerIntegration_Undo(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	result := call(t, s.handleAnnotationUndo, args())
	assert.True(t, result.IsError, "nothing to undo")

	gesture(t, s, "shift", 100, 100, 200, 130)
	callJSON(t, s.handleFieldBind, args("field", "rfq_date"), &bindResult{})
	gesture(t, s, "shift", 100, 100, 200, 130)
	callJSON(t, s.handleFieldBind, args("field", "rfq_date", "text", "2024-01-15"), &bindResult{})

	var undo undoResult
	callJSON(t, s.handleAnnotationUndo, args(), &undo)
	assert.Equal(t, "2024-01-15", undo.Undone.NormalizedValue)
	require.NotNil(t, undo.Restored)
	assert.Equal(t, "2023-12-31", undo.Restored.NormalizedValue)

	var list []store.Annotation
	callJSON(t, s.handleAnnotationsList, args(), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "2023-12-31", list[0].NormalizedValue)

	undo = undoResult{}
	callJSON(t, s.handleAnnotationUndo, args(), &undo)
	assert.Nil(t, undo.Restored)
	callJSON(t, s.handleAnnotationsList, args(), &list)
	assert.Empty(t, list)

	csv := extractTextFromResult(call(t, s.handleExportCSV, args()))
	assert.Equal(t, 1, strings.Count(csv, "\n"), "header only")
}

func TestServerIntegration_PageRender(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	result := call(t, s.handlePageRender, args("page", 0, "scale", 0.5))
	require.False(t, result.IsError, extractTextFromResult(result))
	assert.Contains(t, extractTextFromResult(result), "306x396")

	var image *mcp.ImageContent
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.ImageContent:
			image = &v
		case *mcp.ImageContent:
			image = v
		}
	}
	require.NotNil(t, image)
	assert.Equal(t, "image/png", image.MIMEType)
	assert.True(t, strings.HasPrefix(image.Data, "iVBORw0KGgo"), "base64 PNG signature")

	result = call(t, s.handlePageRender, args("page", 5))
	assert.True(t, result.IsError)
}

func TestServerIntegration_ReopenKeepsAnnotations(t *testing.T) {
	s := newTestServer(t)
	openTestDocument(t, s)

	gesture(t, s, "shift", 100, 100, 200, 130)
	callJSON(t, s.handleFieldBind, args("field", "rfq_date"), &bindResult{})
	require.False(t, call(t, s.handleDocClose, args()).IsError)

	opened := openTestDocument(t, s)
	require.Len(t, opened.Annotations, 1)
	assert.Equal(t, "rfq_date", opened.Annotations[0].FieldName)
	assert.Equal(t, 1, opened.Document.Annotations)

	var info serverInfoResult
	callJSON(t, s.handleServerInfo, nil, &info)
	assert.Equal(t, []string{testDocID}, info.StoredDocuments)
}

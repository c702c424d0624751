package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type registeredTool struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// ToolInfo describes a registered tool for server_info
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func documentParam() mcp.ToolOption {
	return mcp.WithString("document_id",
		mcp.Required(),
		mcp.Description("Identity of an open document as returned by doc_open"),
	)
}

func pointParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Screen x in pixels")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Screen y in pixels")),
	}
}

func tool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

func withAll(groups ...[]mcp.ToolOption) []mcp.ToolOption {
	var out []mcp.ToolOption
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// tools returns every tool with its handler in registration order
func (s *Server) tools() []registeredTool {
	doc := []mcp.ToolOption{documentParam()}

	return []registeredTool{
		{tool("doc_open",
			"Open a PDF for annotation. Returns its identity, page count and stored annotations",
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Path of the PDF, absolute or relative to the PDF directory")),
			mcp.WithNumber("width", mcp.Description("Viewport width in pixels")),
			mcp.WithNumber("height", mcp.Description("Viewport height in pixels")),
		), s.handleDocOpen},
		{tool("doc_close", "Close an open document", doc...), s.handleDocClose},
		{tool("doc_list", "List the open documents"), s.handleDocList},

		{tool("view_zoom", "Change the zoom of a document view",
			withAll(doc, []mcp.ToolOption{
				mcp.WithString("action", mcp.Required(),
					mcp.Enum("in", "out", "set", "at", "fit_width"),
					mcp.Description("in/out step the zoom, set uses zoom, at multiplies by factor around x,y")),
				mcp.WithNumber("zoom", mcp.Description("Absolute zoom for action=set")),
				mcp.WithNumber("factor", mcp.Description("Zoom multiplier for action=at")),
				mcp.WithNumber("x", mcp.Description("Anchor screen x for action=at")),
				mcp.WithNumber("y", mcp.Description("Anchor screen y for action=at")),
			})...,
		), s.handleViewZoom},
		{tool("view_wheel", "Apply a mouse wheel event. With zoom set it zooms around the cursor, otherwise it scrolls",
			withAll(doc, pointParams(), []mcp.ToolOption{
				mcp.WithNumber("delta", mcp.Required(), mcp.Description("Wheel notches, positive scrolls down or zooms out")),
				mcp.WithBoolean("zoom", mcp.Description("Zoom modifier held")),
			})...,
		), s.handleViewWheel},
		{tool("view_pan", "Pan the view by a screen offset",
			withAll(doc, []mcp.ToolOption{
				mcp.WithNumber("dx", mcp.Required(), mcp.Description("Horizontal offset in pixels")),
				mcp.WithNumber("dy", mcp.Required(), mcp.Description("Vertical offset in pixels")),
			})...,
		), s.handleViewPan},
		{tool("view_resize", "Set the size of the rendering surface",
			withAll(doc, []mcp.ToolOption{
				mcp.WithNumber("width", mcp.Required(), mcp.Description("Width in pixels")),
				mcp.WithNumber("height", mcp.Required(), mcp.Description("Height in pixels")),
			})...,
		), s.handleViewResize},
		{tool("view_goto_page", "Scroll to a page, or to the annotation of a field when field is given",
			withAll(doc, []mcp.ToolOption{
				mcp.WithNumber("page", mcp.Description("Zero-based page index")),
				mcp.WithString("field", mcp.Description("Field whose annotation to show")),
				mcp.WithNumber("line_item", mcp.Description("Line item of the field")),
			})...,
		), s.handleViewGotoPage},

		{tool("pointer_down", "Press the pointer. shift draws a rectangle, ctrl snaps to text, none pans",
			withAll(doc, pointParams(), []mcp.ToolOption{
				mcp.WithBoolean("shift", mcp.Description("Shift held")),
				mcp.WithBoolean("ctrl", mcp.Description("Ctrl held")),
				mcp.WithBoolean("alt", mcp.Description("Alt held")),
			})...,
		), s.handlePointerDown},
		{tool("pointer_move", "Move the pressed pointer", withAll(doc, pointParams())...), s.handlePointerMove},
		{tool("pointer_up", "Release the pointer. A finished rectangle waits for field_bind",
			withAll(doc, pointParams())...), s.handlePointerUp},
		{tool("pointer_cancel", "Abandon the active gesture",
			withAll(doc, []mcp.ToolOption{
				mcp.WithBoolean("discard_pending", mcp.Description("Also drop the rectangle waiting for a field")),
			})...,
		), s.handlePointerCancel},

		{tool("field_schema", "List the field vocabulary, with the binding prompt when a document is given",
			mcp.WithString("document_id", mcp.Description("Open document to build the prompt for")),
		), s.handleFieldSchema},
		{tool("field_bind", "Bind the waiting rectangle to a field and save it",
			withAll(doc, []mcp.ToolOption{
				mcp.WithString("field", mcp.Required(), mcp.Description("Field name from field_schema")),
				mcp.WithNumber("line_item", mcp.Description("Line item index for line item fields")),
				mcp.WithBoolean("new_item", mcp.Description("Start a new line item")),
				mcp.WithString("text", mcp.Description("Text to store instead of the text under the rectangle")),
			})...,
		), s.handleFieldBind},

		{tool("annotations_list", "List the annotations of a document",
			withAll(doc, []mcp.ToolOption{
				mcp.WithBoolean("history", mcp.Description("List superseded and deleted values instead")),
				mcp.WithNumber("page", mcp.Description("Only annotations on this page")),
			})...,
		), s.handleAnnotationsList},
		{tool("annotation_delete", "Delete the annotation of a field, or every annotation of the document",
			withAll(doc, []mcp.ToolOption{
				mcp.WithString("field", mcp.Description("Field name")),
				mcp.WithNumber("line_item", mcp.Description("Line item of the field")),
				mcp.WithBoolean("all", mcp.Description("Delete all annotations and history")),
			})...,
		), s.handleAnnotationDelete},
		{tool("annotation_undo", "Undo the most recent field binding, restoring the value it replaced", doc...), s.handleAnnotationUndo},
		{tool("annotations_retry", "Write annotations whose save failed", doc...), s.handleAnnotationsRetry},

		{tool("page_render", "Render a page preview with its annotations as PNG",
			withAll(doc, []mcp.ToolOption{
				mcp.WithNumber("page", mcp.Required(), mcp.Description("Zero-based page index")),
				mcp.WithNumber("scale", mcp.Description("Pixels per document unit, current zoom when omitted")),
			})...,
		), s.handlePageRender},

		{tool("export_csv", "Export the stored annotations of a document as CSV",
			withAll(doc, []mcp.ToolOption{
				mcp.WithBoolean("save", mcp.Description("Also write <name>_annotations.csv to the data directory")),
			})...,
		), s.handleExportCSV},
		{tool("export_yaml", "Export the stored annotations of a document as a YAML record dump",
			withAll(doc, []mcp.ToolOption{
				mcp.WithBoolean("save", mcp.Description("Also write <name>_annotations.yaml to the data directory")),
			})...,
		), s.handleExportYAML},

		{tool("server_info", "Get server information, configuration and available tools"), s.handleServerInfo},
	}
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	for _, t := range s.tools() {
		s.mcpServer.AddTool(t.tool, t.handler)
	}
}

// ToolInfos lists the registered tools
func (s *Server) ToolInfos() []ToolInfo {
	list := s.tools()
	out := make([]ToolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, ToolInfo{Name: t.tool.Name, Description: t.tool.Description})
	}
	return out
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/store"
)

// Server exposes the shared folder as MCP tools
type Server struct {
	logger    *logrus.Logger
	store     *store.Store
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server backed by st
func NewServer(logger *logrus.Logger, st *store.Store, version string) *Server {
	mcpServer := server.NewMCPServer(
		"sharedfiles",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		logger:    logger,
		store:     st,
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s
}

// ServeStdio serves MCP over stdin and stdout until the input is closed
func (s *Server) ServeStdio() error {
	s.logger.Infof("Serving MCP over stdio for %s", s.store.Root())
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_tree",
		mcp.WithDescription("List every file and folder below the shared root as JSON"),
	), s.handleListTree)

	s.mcpServer.AddTool(mcp.NewTool("read_text",
		mcp.WithDescription("Read the shared scratch text"),
	), s.handleReadText)

	s.mcpServer.AddTool(mcp.NewTool("write_text",
		mcp.WithDescription("Replace the shared scratch text"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("New scratch text"),
		),
	), s.handleWriteText)

	s.mcpServer.AddTool(mcp.NewTool("delete_file",
		mcp.WithDescription("Delete a file below the shared root"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Root-relative path of the file"),
		),
	), s.handleDeleteFile)

	s.mcpServer.AddTool(mcp.NewTool("delete_folder",
		mcp.WithDescription("Delete a folder and everything in it"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Root-relative path of the folder"),
		),
	), s.handleDeleteFolder)

	s.mcpServer.AddTool(mcp.NewTool("archive_folder",
		mcp.WithDescription("Zip a folder and store the archive below the shared root"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Root-relative path of the folder to archive"),
		),
		mcp.WithString("destination",
			mcp.Description("Root-relative path of the zip to write, defaults to <folder name>.zip"),
		),
	), s.handleArchiveFolder)
}

func (s *Server) handleListTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.store.Tree(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list files: %v", err)), nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReadText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := s.store.ReadText(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read text: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleWriteText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("content parameter error: %v", err)), nil
	}

	if err := s.store.WriteText(ctx, content); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to write text: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", len(content), s.store.ScratchFile())), nil
}

func (s *Server) handleDeleteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path parameter error: %v", err)), nil
	}

	if err := s.store.DeleteFile(ctx, p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete file: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s", p)), nil
}

func (s *Server) handleDeleteFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path parameter error: %v", err)), nil
	}

	if err := s.store.DeleteFolder(ctx, p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete folder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s", p)), nil
}

func (s *Server) handleArchiveFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path parameter error: %v", err)), nil
	}

	a, err := s.store.Archive(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build archive: %v", err)), nil
	}

	dest := request.GetString("destination", a.Name)

	if _, err := s.store.Upload(ctx, dest, a.Reader); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store archive: %v", err)), nil
	}

	s.logger.Infof("Archived %s to %s (%d entries)", p, dest, a.Entries)

	summary := a.Summary()
	data, err := json.Marshal(struct {
		models.ArchiveSummary
		Destination string `json:"destination"`
	}{summary, dest})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes board tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/boardview"
	"github.com/starford/retroboard/internal/identity"
)

const guideURI = "retroboard://guide"

// Server wraps the MCP server with board tools. Every call acts as the
// principal reported by the identity provider.
type Server struct {
	mcp  *server.MCPServer
	svc  *boardservice.Service
	user identity.Provider
}

// New creates a new MCP server with all board tools registered.
func New(svc *boardservice.Service, user identity.Provider) *Server {
	s := &Server{svc: svc, user: user}

	s.mcp = server.NewMCPServer(
		"Retroboard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_boards",
		mcp.WithDescription("List the boards you created or contributed cards to, newest first."),
	), s.listBoards)

	s.mcp.AddTool(mcp.NewTool("read_board",
		mcp.WithDescription("Read a board by join code. Cards you may not see yet are marked hidden and carry no text."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Six character join code, case-insensitive")),
	), s.readBoard)

	s.mcp.AddTool(mcp.NewTool("create_board",
		mcp.WithDescription("Create a board with the default Good, Bad and Improve lanes. Returns its id and join code."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Board name")),
	), s.createBoard)

	s.mcp.AddTool(mcp.NewTool("add_card",
		mcp.WithDescription("Add a card to a lane of a board. Read the guide via the retroboard://guide resource first."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Join code of the board")),
		mcp.WithString("lane", mcp.Required(), mcp.Description("Lane id or lane name")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Card text")),
	), s.addCard)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Retroboard Guide",
			mcp.WithResourceDescription("How boards, lanes, cards and visibility work."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuide,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) principal(ctx context.Context) (context.Context, error) {
	email, ok := s.user.Current()
	if !ok {
		return nil, fmt.Errorf("no signed-in user: %w", apperr.ErrUnauthenticated)
	}
	return identity.WithPrincipal(ctx, email), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listBoards(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, err := s.principal(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.svc.ListBoards(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list), nil
}

func (s *Server) readBoard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, err = s.principal(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.svc.ReadBoard(ctx, code)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("board %s: %v", code, err)), nil
	}
	return jsonResult(v), nil
}

func (s *Server) createBoard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, err = s.principal(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	created, err := s.svc.CreateBoard(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(created), nil
}

func (s *Server) addCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lane, err := req.RequireString("lane")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, err = s.principal(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var id string
	err = s.svc.With(ctx, code, func(sess *boardview.Session) error {
		laneID, ok := resolveLane(sess, lane)
		if !ok {
			return fmt.Errorf("no lane %q: %w", lane, apperr.ErrInvalid)
		}
		id, err = sess.AddCard(ctx, laneID, text)
		return err
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"id": id}), nil
}

// resolveLane accepts a lane id or a case-insensitive lane name.
func resolveLane(sess *boardview.Session, lane string) (string, bool) {
	b := sess.Board()
	if b.HasLane(lane) {
		return lane, true
	}
	for _, l := range b.OrderedLanes() {
		if strings.EqualFold(strings.TrimSpace(l.Name), strings.TrimSpace(lane)) {
			return l.ID, true
		}
	}
	return "", false
}

func (s *Server) readGuide(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     BoardGuide,
		},
	}, nil
}

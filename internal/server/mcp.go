package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joseph-ayodele/missingtext/internal/common"
)

// NewMCPServer exposes path extraction as MCP tools. Paths go through the
// ingestor's safe mode guard.
func (s *Service) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "missingtext", Version: version}, nil)

	s.addTool(srv, &mcp.Tool{
		Name:        "extract_document",
		Description: "Extract the text of a PDF, image or text file, page by page.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File to extract"},
				"force":   map[string]any{"type": "boolean", "description": "Reprocess even if identical bytes were seen before"},
				"options": map[string]any{"type": "object", "description": "Processing option overrides"},
			},
			"required": []string{"path"},
		},
	}, s.toolExtract)

	s.addTool(srv, &mcp.Tool{
		Name:        "detect_format",
		Description: "Report how a file would be decoded without extracting it.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File to inspect"},
			},
			"required": []string{"path"},
		},
	}, s.toolDetect)

	s.addTool(srv, &mcp.Tool{
		Name:        "list_formats",
		Description: "List supported formats, the OCR engine and default options.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, s.toolFormats)

	return srv
}

type toolArgs struct {
	Path    string          `json:"path"`
	Force   bool            `json:"force"`
	Options json.RawMessage `json:"options"`
}

type toolFunc func(ctx context.Context, args toolArgs) (any, error)

// addTool decodes arguments, runs fn and returns its result as JSON text.
// Tool failures are reported in the result, not as protocol errors.
func (s *Service) addTool(srv *mcp.Server, tool *mcp.Tool, fn toolFunc) {
	name := tool.Name
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, requestID := common.EnsureRequestID(ctx)
		log := s.logger.With("request_id", requestID, "tool", name)
		ctx = common.WithLogger(ctx, log)

		var args toolArgs
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("%s: invalid arguments: %w", name, err))
				return &res, nil
			}
		}

		out, err := fn(ctx, args)
		if err != nil {
			log.Warn("mcp.tool_failed", "error", err)
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		log.Info("mcp.tool_done")
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func (s *Service) toolExtract(ctx context.Context, args toolArgs) (any, error) {
	opts, err := s.Options(args.Options)
	if err != nil {
		return nil, err
	}
	res, err := s.ingestor.ExtractPath(ctx, args.Path, opts, args.Force)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) toolDetect(_ context.Context, args toolArgs) (any, error) {
	abs, err := s.ingestor.Guard().Resolve(args.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, args.Path)
		}
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	format, err := s.proc.Detect(data, abs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": abs, "format": format, "bytes": len(data)}, nil
}

func (s *Service) toolFormats(context.Context, toolArgs) (any, error) {
	return map[string]any{
		"formats":    s.proc.Formats(),
		"ocr_engine": s.proc.EngineName(),
		"defaults":   s.proc.Defaults(),
		"safe_mode":  s.ingestor.Guard().Enabled(),
	}, nil
}

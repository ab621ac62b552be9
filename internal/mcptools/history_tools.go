package mcptools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trial-match-server/internal/history"
)

// GetMatchHistoryParams defines parameters for the get_match_history tool.
type GetMatchHistoryParams struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// GetMatchHistoryResult defines the result of get_match_history.
type GetMatchHistoryResult struct {
	UserID  string                 `json:"user_id"`
	Count   int                    `json:"count"`
	Records []*history.MatchRecord `json:"records"`
}

// ExportHistoryParams defines parameters for the export_match_history tool.
type ExportHistoryParams struct {
	Filename string `json:"filename,omitempty"`
}

// ExportHistoryResult defines the result of export_match_history.
type ExportHistoryResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Count   int64  `json:"count"`
}

// ImportHistoryParams defines parameters for the import_match_history tool.
type ImportHistoryParams struct {
	Path string `json:"path"`
}

// ImportHistoryResult defines the result of import_match_history.
type ImportHistoryResult struct {
	Success  bool `json:"success"`
	Imported int  `json:"imported"`
	Skipped  int  `json:"skipped"`
}

// handleGetMatchHistory lists a user's stored match records.
func (s *Server) handleGetMatchHistory(ctx context.Context, req *mcp.CallToolRequest, params GetMatchHistoryParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "get_match_history").Info("Tool invoked")

	if params.UserID == "" {
		return errorResult("user_id is required"), nil, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := s.historyStore.ListByUser(ctx, params.UserID, limit, params.Offset)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list match history: %v", err)), nil, nil
	}
	if records == nil {
		records = []*history.MatchRecord{}
	}

	result := GetMatchHistoryResult{
		UserID:  params.UserID,
		Count:   len(records),
		Records: records,
	}

	return textResult(fmt.Sprintf("Found %d match records for %s", len(records), params.UserID)), result, nil
}

// handleExportHistory writes all match history to a JSON file in the
// export directory.
func (s *Server) handleExportHistory(ctx context.Context, req *mcp.CallToolRequest, params ExportHistoryParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "export_match_history").Info("Tool invoked")

	filename := params.Filename
	if filename == "" {
		filename = fmt.Sprintf("match_history_export_%s.json", time.Now().Format("20060102_150405"))
	}
	filePath := filepath.Join(s.config.ExportDir(), filename)

	file, err := os.Create(filePath)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to create export file: %v", err)), nil, nil
	}
	defer file.Close()

	if err := s.historyStore.ExportJSON(ctx, file); err != nil {
		return errorResult(fmt.Sprintf("export failed: %v", err)), nil, nil
	}

	count, err := s.historyStore.Count(ctx)
	if err != nil {
		count = -1
	}

	result := ExportHistoryResult{Success: true, Path: filePath, Count: count}
	return textResult(fmt.Sprintf("Exported %d match records to %s", count, filePath)), result, nil
}

// handleImportHistory reads match records from a JSON export file.
func (s *Server) handleImportHistory(ctx context.Context, req *mcp.CallToolRequest, params ImportHistoryParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "import_match_history").Info("Tool invoked")

	if params.Path == "" {
		return errorResult("path is required"), nil, nil
	}

	file, err := os.Open(params.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to open import file: %v", err)), nil, nil
	}
	defer file.Close()

	imported, skipped, err := s.historyStore.ImportJSON(ctx, file)
	if err != nil {
		return errorResult(fmt.Sprintf("import failed: %v", err)), nil, nil
	}

	result := ImportHistoryResult{Success: true, Imported: imported, Skipped: skipped}
	return textResult(fmt.Sprintf("Imported %d records, skipped %d existing", imported, skipped)), result, nil
}

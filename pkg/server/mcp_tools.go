package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/auth"
)

// registerMCPTools registers all MCP tools with the server
func (s *Server) registerMCPTools() {
	// Library tools
	s.registerSearchTool()
	s.registerImportTool()
	s.registerAssetTool()
	s.registerUpdateAssetTool()
	s.registerScanTool()

	// Task tools
	s.registerTasksTool()
	s.registerRequeueTool()

	// Album tools
	s.registerAlbumListTool()
	s.registerAlbumCreateTool()
	s.registerAlbumAddTool()
	s.registerSmartAlbumCreateTool()

	s.registerSettingsTool()
}

func (s *Server) registerSearchTool() {
	tool := mcp.NewTool("library-search",
		mcp.WithDescription("Search the photo library. Filters combine; results come back in library order."),
		mcp.WithString("query",
			mcp.Description("Text to match against filenames, keywords and AI tags"),
		),
		mcp.WithString("mode",
			mcp.Description("Search mode"),
			mcp.Enum("keyword", "semantic"),
		),
		mcp.WithString("album",
			mcp.Description("Restrict to a manual album id"),
		),
		mcp.WithString("smartAlbum",
			mcp.Description("Restrict to a smart album id"),
		),
		mcp.WithBoolean("missing",
			mcp.Description("Only assets whose file is missing"),
		),
		mcp.WithBoolean("needsAI",
			mcp.Description("Only assets still waiting for AI tags"),
		),
		mcp.WithBoolean("faces",
			mcp.Description("Only assets with a faces tag"),
		),
		mcp.WithBoolean("documents",
			mcp.Description("Only assets tagged as documents"),
		),
		mcp.WithBoolean("screenshots",
			mcp.Description("Only assets tagged as screenshots"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of results to skip (default 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 100)"),
		),
		mcp.WithBoolean("idsOnly",
			mcp.Description("Return asset ids without full records"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args searchParams
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		res, err := s.search(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func (s *Server) registerImportTool() {
	tool := mcp.NewTool("library-import",
		mcp.WithDescription("Import image files into the library. Folders are crawled recursively; files already in the library are skipped."),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("Files or folders to import"),
			mcp.WithStringItems(),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Paths []string `json:"paths"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		entry := log.WithField("paths", len(args.Paths))
		if claims, ok := auth.ClaimsFrom(ctx); ok {
			entry = entry.WithField("subject", claims.Subject)
		}
		entry.Info("Executing library-import via MCP")

		res, err := s.importPaths(ctx, args.Paths)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Import failed: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Import finished\nFound: %d\nImported: %d\nAlready indexed: %d\nFailed: %d",
			res.Found, len(res.Imported), res.Skipped, len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "\n  %s: %s", f.Path, f.Error)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func (s *Server) registerAssetTool() {
	tool := mcp.NewTool("library-asset",
		mcp.WithDescription("Get one asset with its tasks"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Asset id"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			ID string `json:"id"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		detail, err := s.assetDetail(args.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(detail)
	})
}

func (s *Server) registerUpdateAssetTool() {
	tool := mcp.NewTool("library-update-asset",
		mcp.WithDescription("Update the user fields of an asset. Omitted fields are left unchanged."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Asset id"),
		),
		mcp.WithNumber("rating",
			mcp.Description("Star rating 0-5; out of range values are clamped"),
		),
		mcp.WithBoolean("flagged",
			mcp.Description("Flag state"),
		),
		mcp.WithArray("keywords",
			mcp.Description("Replacement keyword list"),
			mcp.WithStringItems(),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			ID string `json:"id"`
			assetPatch
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		asset, err := s.updateAsset(ctx, args.ID, args.assetPatch)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Update failed: %v", err)), nil
		}
		return jsonResult(asset)
	})
}

func (s *Server) registerScanTool() {
	tool := mcp.NewTool("library-scan",
		mcp.WithDescription("Check which assets are missing on disk, or re-resolve file bookmarks"),
		mcp.WithString("mode",
			mcp.Description("liveness (default) or bookmarks"),
			mcp.Enum("liveness", "bookmarks"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Mode string `json:"mode"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		report, err := s.scan(ctx, args.Mode)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
		}
		return mcp.NewToolResultText(describeReport(report)), nil
	})
}

// Task tools

func (s *Server) registerTasksTool() {
	tool := mcp.NewTool("library-tasks",
		mcp.WithDescription("List background tasks with optional filters"),
		mcp.WithString("status",
			mcp.Description("Task status"),
			mcp.Enum(string(models.TaskPending), string(models.TaskRunning), string(models.TaskCompleted), string(models.TaskFailed)),
		),
		mcp.WithString("kind",
			mcp.Description("Task kind, e.g. ai_tag or thumbnail"),
		),
		mcp.WithString("assetId",
			mcp.Description("Only tasks of this asset"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args taskFilter
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		res, err := s.listTasks(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	})
}

func (s *Server) registerRequeueTool() {
	tool := mcp.NewTool("library-requeue",
		mcp.WithDescription("Enqueue a fresh task for an asset, for example to retry AI tagging"),
		mcp.WithString("assetId",
			mcp.Required(),
			mcp.Description("Asset id"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Task kind"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			AssetID string `json:"assetId"`
			Kind    string `json:"kind"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		task, err := s.requeue(ctx, args.AssetID, args.Kind)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Requeue failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Queued %s task %s for asset %s", task.Kind, task.ID, task.AssetID)), nil
	})
}

// Album tools

func (s *Server) registerAlbumListTool() {
	tool := mcp.NewTool("album-list",
		mcp.WithDescription("List manual and smart albums"),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := s.engine.Snapshot()
		return jsonResult(map[string]any{
			"albums":       snap.Albums,
			"smart_albums": snap.SmartAlbums,
		})
	})
}

func (s *Server) registerAlbumCreateTool() {
	tool := mcp.NewTool("album-create",
		mcp.WithDescription("Create an empty manual album"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Album name"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Name string `json:"name"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		album, err := s.engine.CreateAlbum(ctx, args.Name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create album: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Created album %q (%s)", album.Name, album.ID)), nil
	})
}

func (s *Server) registerAlbumAddTool() {
	tool := mcp.NewTool("album-add",
		mcp.WithDescription("Add or remove assets in a manual album"),
		mcp.WithString("albumId",
			mcp.Required(),
			mcp.Description("Album id"),
		),
		mcp.WithArray("assetIds",
			mcp.Required(),
			mcp.Description("Asset ids"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("remove",
			mcp.Description("Remove the assets instead of adding them"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			AlbumID  string   `json:"albumId"`
			AssetIDs []string `json:"assetIds"`
			Remove   bool     `json:"remove"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		var err error
		if args.Remove {
			err = s.engine.RemoveFromAlbum(ctx, args.AlbumID, args.AssetIDs...)
		} else {
			err = s.engine.AddToAlbum(ctx, args.AlbumID, args.AssetIDs...)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Album update failed: %v", err)), nil
		}

		album, _ := s.engine.Snapshot().Album(args.AlbumID)
		return jsonResult(album)
	})
}

func (s *Server) registerSmartAlbumCreateTool() {
	tool := mcp.NewTool("smart-album-create",
		mcp.WithDescription("Create a smart album. An asset belongs to it when it matches every rule. "+
			"Rule types: rating_at_least {min_rating}, keyword_contains {text}, ai_label_contains {text}, "+
			"date_in_range {start, end as RFC 3339}, has_faces, offline, missing and needs_ai_tags {expected}."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Smart album name"),
		),
		mcp.WithArray("rules",
			mcp.Description("Rules as JSON objects with a type field"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Name  string        `json:"name"`
			Rules []models.Rule `json:"rules"`
		}
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		album, err := s.engine.CreateSmartAlbum(ctx, args.Name, args.Rules)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create smart album: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Created smart album %q (%s) with %d rules", album.Name, album.ID, len(album.Rules))), nil
	})
}

func (s *Server) registerSettingsTool() {
	tool := mcp.NewTool("library-settings",
		mcp.WithDescription("Show library settings, or change them when arguments are given"),
		mcp.WithBoolean("localOnlyMode",
			mcp.Description("Block cloud AI providers"),
		),
		mcp.WithBoolean("facesEnabled",
			mcp.Description("Run face detection on new imports"),
		),
		mcp.WithString("aiProvider",
			mcp.Description("AI provider for new tagging tasks"),
		),
	)

	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args settingsPatch
		if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		view, err := s.applySettings(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Settings update failed: %v", err)), nil
		}
		return jsonResult(view)
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// unmarshalArgs decodes tool arguments into a struct
func unmarshalArgs(arguments any, v any) error {
	data, err := json.Marshal(arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

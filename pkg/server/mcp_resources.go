package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const assetURIPrefix = "library://assets/"

// registerMCPResources registers the MCP resources and resource templates
func (s *Server) registerMCPResources() {
	s.registerStatusResource()
	s.registerAlbumsResource()
	s.registerAssetTemplate()
}

func (s *Server) registerStatusResource() {
	resource := mcp.NewResource(
		"library://status",
		"Library Status",
		mcp.WithResourceDescription("Asset and task counts, dispatcher and watcher statistics"),
		mcp.WithMIMEType("application/json"),
	)

	s.mcp.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(request.Params.URI, s.status())
	})
}

func (s *Server) registerAlbumsResource() {
	resource := mcp.NewResource(
		"library://albums",
		"Albums",
		mcp.WithResourceDescription("All manual and smart albums"),
		mcp.WithMIMEType("application/json"),
	)

	s.mcp.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := s.engine.Snapshot()
		return jsonResource(request.Params.URI, map[string]any{
			"albums":       snap.Albums,
			"smart_albums": snap.SmartAlbums,
		})
	})
}

func (s *Server) registerAssetTemplate() {
	template := mcp.NewResourceTemplate(
		assetURIPrefix+"{id}",
		"Asset",
		mcp.WithTemplateDescription("One asset with its tasks"),
		mcp.WithTemplateMIMEType("application/json"),
	)

	s.mcp.AddResourceTemplate(template, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		if !strings.HasPrefix(uri, assetURIPrefix) {
			return nil, fmt.Errorf("invalid URI format: %s", uri)
		}
		id := strings.TrimPrefix(uri, assetURIPrefix)
		if id == "" {
			return nil, fmt.Errorf("asset id is required")
		}

		detail, err := s.assetDetail(id)
		if err != nil {
			return nil, err
		}
		return jsonResource(uri, detail)
	})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

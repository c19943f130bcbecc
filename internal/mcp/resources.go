package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/linewatch/internal/store"
)

const recentNotifications = 20

func registerStatsResource(s *server.MCPServer, st Store) {
	resource := mcp.NewResource(
		"linewatch://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Row counts of lines, aliases, products, plan tasks, downtimes, notifications and scan jobs."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRecentNotificationsResource(s *server.MCPServer, st Store) {
	resource := mcp.NewResource(
		"linewatch://notifications/recent",
		"Recent Notifications",
		mcp.WithResourceDescription("The most recent notifications, newest first."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ns, err := st.ListNotifications(ctx, store.NotificationFilter{Limit: recentNotifications})
		if err != nil {
			return nil, fmt.Errorf("reading notifications: %w", err)
		}
		if ns == nil {
			ns = []store.Notification{}
		}
		data, _ := json.MarshalIndent(map[string]any{"notifications": ns, "count": len(ns)}, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

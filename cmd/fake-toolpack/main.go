// ABOUTME: Minimal fake tool pack for E2E testing; serves canned analytics tools over MCP.
// ABOUTME: Usage: fake-toolpack [-addr :8765]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	addr := flag.String("addr", ":8765", "HTTP listen address")
	flag.Parse()

	if err := run(*addr); err != nil {
		log.Fatal(err)
	}
}

func run(addr string) error {
	s := server.NewMCPServer("fake-toolpack", "0.1.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(
		mcp.NewTool("list_datasets",
			mcp.WithDescription("List the datasets available for analysis"),
		),
		handleListDatasets,
	)

	s.AddTool(
		mcp.NewTool("summarize_dataset",
			mcp.WithDescription("Summarize a dataset's rows, columns, and date range"),
			mcp.WithString("dataset_id",
				mcp.Required(),
				mcp.Description("ID of the dataset to summarize"),
			),
		),
		handleSummarizeDataset,
	)

	s.AddTool(
		mcp.NewTool("forecast_metric",
			mcp.WithDescription("Produce a naive forecast for a metric in a dataset"),
			mcp.WithString("dataset_id",
				mcp.Required(),
				mcp.Description("ID of the dataset to forecast from"),
			),
			mcp.WithString("metric",
				mcp.Description("Metric column to forecast, defaults to revenue"),
			),
		),
		handleForecastMetric,
	)

	httpServer := server.NewStreamableHTTPServer(s)
	fmt.Fprintf(os.Stderr, "fake-toolpack listening on %s (endpoint /mcp)\n", addr)
	return httpServer.Start(addr)
}

// datasets is the canned catalogue every tool answers from.
var datasets = map[string]string{
	"ds-rev-2026q2": "quarterly revenue by region, 12,480 rows, 2024-01-01..2026-06-30",
	"ds-churn-eu":   "EU customer churn events, 3,105 rows, 2025-01-01..2026-07-31",
	"ds-usage-api":  "API usage counters by account, 88,912 rows, 2026-01-01..2026-08-01",
}

func handleListDatasets(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	sb.WriteString("Available datasets:\n")
	for id, desc := range datasets {
		fmt.Fprintf(&sb, "- %s: %s\n", id, desc)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func handleSummarizeDataset(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	desc, ok := datasets[id]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown dataset %q", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Dataset %s: %s", id, desc)), nil
}

func handleForecastMetric(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := datasets[id]; !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown dataset %q", id)), nil
	}

	metric := req.GetString("metric", "revenue")
	return mcp.NewToolResultText(fmt.Sprintf(
		"Forecast for %s in %s: +4.2%% next quarter (naive trend from last 4 periods)",
		metric, id,
	)), nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerResources(server *mcp.Server, tables TableReader) {
	server.AddResource(&mcp.Resource{
		URI:         "market://tables",
		Name:        "tables",
		Description: "Day tables currently in the store, most recent first",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if tables == nil {
			return nil, fmt.Errorf("query service unavailable")
		}
		names, err := tables.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		if names == nil {
			names = []string{}
		}
		return jsonResource(req.Params.URI, tablesListOutput{Tables: names})
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "table://{name}{?tail}",
		Name:        "table-points",
		Description: "Price points of one day table; optional tail query param",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if tables == nil {
			return nil, fmt.Errorf("query service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil || parsed.Scheme != "table" || parsed.Host == "" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}

		in := tableFetchInput{Table: parsed.Host}
		if rawTail := strings.TrimSpace(parsed.Query().Get("tail")); rawTail != "" {
			n, err := strconv.Atoi(rawTail)
			if err != nil {
				return nil, fmt.Errorf("invalid tail: %s", rawTail)
			}
			in.Tail = n
		}

		out, err := fetchTable(ctx, tables, in)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, out)
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "summary://{name}",
		Name:        "table-summary",
		Description: "Summary statistics of one day table",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if tables == nil {
			return nil, fmt.Errorf("query service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil || parsed.Scheme != "summary" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		name, err := requireTableName(parsed.Host)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}

		summary, err := tables.TableSummary(ctx, name)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, tableSummaryOutput{Summary: summary})
	})
}

func jsonResource(uri string, payload any) (*mcp.ReadResourceResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}

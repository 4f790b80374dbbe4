// Package mcp provides an MCP (Model Context Protocol) server adapter for Sercha.
// It lets AI assistants search, index and read the local document index.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrNoRoots is returned by the sync tool when neither the call nor the
// configuration names a root.
var ErrNoRoots = errors.New("mcp: no roots to sync")

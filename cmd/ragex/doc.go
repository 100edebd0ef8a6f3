// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the Ragex (Code Intelligence Engine) CLI.
//
// Ragex is a code intelligence tool that indexes codebases and provides
// semantic understanding through the Model Context Protocol (MCP).
// It can be used standalone for local code queries or as an MCP server
// for AI assistants like Claude Code and Cursor.
//
// # Quick Start
//
// Initialize a new project in your repository:
//
//	cd /path/to/your/project
//	ragex init
//
// Index your codebase:
//
//	ragex index
//
// Check indexing status:
//
//	ragex status
//
// Query the indexed code with CozoScript:
//
//	ragex query '?[name, file_path] := *ragex_function{ name, file_path } :limit 10'
//
// Start as an MCP server for AI assistants:
//
//	ragex --mcp
//
// # Commands
//
// The CLI provides these main commands:
//
//	init           Initialize a new Ragex project (creates .ragex/project.yaml)
//	index          Index the current repository for code intelligence
//	status         Show project status (files, functions, types indexed)
//	query          Execute CozoScript queries on the indexed codebase
//	reset          Reset local project data (destructive operation)
//	install-hook   Install git post-commit hook for automatic re-indexing
//
// Global flags:
//
//	--version      Show version information and exit
//	--mcp          Start as MCP server (JSON-RPC over stdio)
//	--config PATH  Path to .ragex/project.yaml configuration file
//
// # MCP Server Mode
//
// When run with the --mcp flag, Ragex operates as a Model Context Protocol
// server, exposing 20+ tools for code intelligence to AI assistants.
//
// MCP tools include:
//
//	ragex_semantic_search      Find code by meaning using embeddings
//	ragex_grep                 Fast literal text search
//	ragex_find_function        Find functions by name
//	ragex_find_callers         Find what calls a function
//	ragex_find_callees         Find what a function calls
//	ragex_analyze              Answer architectural questions
//	ragex_list_endpoints       List HTTP/REST endpoints
//	ragex_trace_path           Trace call paths from entry points
//	ragex_find_implementations Find interface implementations
//	ragex_verify_absence       Verify patterns don't exist (security audits)
//	... and more
//
// Configure Ragex in your MCP client (e.g., Claude Code):
//
//	{
//	  "mcpServers": {
//	    "ragex": {
//	      "command": "ragex",
//	      "args": ["--mcp"],
//	      "env": {
//	        "RAGEX_PROJECT_ID": "my-project",
//	        "RAGEX_BASE_URL": "http://localhost:8080"
//	      }
//	    }
//	  }
//	}
//
// # Configuration
//
// Ragex is configured through a local .ragex/project.yaml file and environment
// variables. The init command creates a default configuration file.
//
// Environment variables (override config file):
//
//	RAGEX_PROJECT_ID         Project identifier (default: directory name)
//	RAGEX_BASE_URL           Edge Cache URL (default: unset, standalone mode)
//	RAGEX_PRIMARY_HUB        Primary Hub gRPC address (default: unset, standalone mode)
//	RAGEX_CONFIG_PATH        Explicit path to project.yaml
//
// Embedding provider settings:
//
//	OLLAMA_HOST            Ollama API URL (default: http://localhost:11434)
//	OLLAMA_EMBED_MODEL     Embedding model (default: nomic-embed-text)
//
// # Data Storage
//
// Indexed data is stored locally in:
//
//	<configured_data_dir>/<project_id>/ (default: ~/.ragex/data/<project_id>/)
//
// This includes RocksDB databases for local storage and CozoDB for
// Datalog-based queries. Use the reset command to clear local data.
//
// # Git Integration
//
// The install-hook command adds a post-commit hook that automatically
// triggers background re-indexing after each commit, keeping the index
// up-to-date without manual intervention.
//
// See ragex --help for complete usage information.
package main

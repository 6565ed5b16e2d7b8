// Package server provides the HTTP transport.
//
// It serves the same tools as the MCP server, as plain JSON:
//
//   - GET /tools lists tools with their JSON Schema parameters
//   - POST /tools/{name} runs a tool; the body is the tool input and the
//     response is the tool result, with a 4xx or 5xx status on failure
//   - GET /workspace returns the workspace root, mode and whether it is
//     initialized
//   - GET /events streams workspace, shell and file events as Server-Sent
//     Events; ?type=a,b limits the stream to the named event types
//   - GET /health reports liveness
package server

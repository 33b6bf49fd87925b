// Package logging configures structured JSON logging for cardrag.
//
// Logs go to a size-rotated file under ~/.cardrag/logs/ and, outside of
// serve mode, are also teed to stderr. The MCP stdio transport owns stdout
// and stderr, so serve mode writes to the file only.
package logging

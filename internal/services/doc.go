// Package services assembles the recalld object graph.
//
// Build constructs every subsystem in dependency order from a loaded
// configuration: telemetry, the embedding provider, the vector store,
// schema migrations, the lexical index, the domain services, and
// finally the MCP and HTTP servers. The resulting Registry exposes
// accessor methods and owns the lifecycle of everything it built;
// Close releases resources in reverse order.
package services

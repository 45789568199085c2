// Package transport holds the network connectors of a harbor service. Each
// connector embeds server.ConnectorBase and resolves its engine per request,
// so an engine swap is visible to the next request without restarting the
// listener.
package transport

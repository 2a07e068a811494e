// Package feed implements the Feed Connection Manager component.
//
// The manager owns the streaming connection to the market data hub and the
// reconnection state machine:
//   - SignalR-style JSON hub over websocket (0x1e-delimited records)
//   - Bounded reconnect attempts with exponential backoff
//   - Pause/resume gate used by the memory governor for backpressure
//   - Raw quote/trade/depth events forwarded to the router
package feed

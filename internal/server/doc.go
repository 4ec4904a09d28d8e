// Package server implements the WebSocket chat core and its HTTP surface.
//
// The Hub is the connection registry: one live Handle per user id, with
// snapshot-then-send broadcast and pruning of connections whose delivery
// fails. Each WebSocket session is a Client whose read pump feeds frames to
// the Dispatcher, which updates the room store and triggers broadcasts. The
// admin API (rooms, users, history) and routing live alongside so the whole
// service is assembled from a single Server value.
package server

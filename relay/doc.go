// Package relay implements the central relay server: the identity
// registry, point-to-point envelope routing, and voice room
// management.
//
// The relay treats message payloads as opaque bytes. It holds no key
// material and can decrypt nothing; it only maps identities to live
// connections and fans out room audio.
//
// Concurrency model: one goroutine per client connection. The identity
// registry and the room table are each guarded by their own lock.
// Routing looks a target up under the registry lock and performs the
// socket write outside it, so a slow peer never blocks the registry.
package relay

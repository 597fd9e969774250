/*
Package registry tracks the worker fleet: admission, heartbeats,
delivery channels, and removal.

Registration is validated (identity, endpoint, capacity bounds, load
factor) and rate limited per worker ID: after three failed attempts the
ID is blocked until an hour has passed since the last counted attempt.
Rejected-while-blocked attempts do not extend the window.

Heartbeats are idempotent last-writer-wins updates. Fields omitted from
a heartbeat leave the stored value untouched, so a minimal liveness
ping is valid. A heartbeat from a worker marked inactive revives it.

Each registered worker gets a buffered assignment channel. Delivery is
non-blocking; a full channel is an error the caller handles by
requeueing. Channels do not survive a restart, which is why restored
scheduled jobs fall back to pending.

Records persist through the worker store and are mirrored in a TTL
cache for read paths. The in-memory map is authoritative while the
process is up.
*/
package registry

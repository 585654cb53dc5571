// Package redishost is a sessions.Store backed by Redis. Each session is a
// JSON document under "<prefix>sess:<id>" whose key expiry tracks the
// session's sliding TTL, so several server instances can share sessions.
package redishost

// Package store holds the persisted token slot implementations. Every backend keeps a
// single opaque string under the fixed name Key, returns sentinel.ErrNotFound from Load
// when the slot is empty, and treats Delete of an empty slot as success.
package store

// Key is the fixed name the session token is persisted under.
const Key = "token"

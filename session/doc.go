// Package session houses implementations of core.SessionStore, the
// short-term memory of SupportMesh.
//
// State is partitioned by key prefix: app: keys are shared by every user of
// an app, user: keys by every session of a user, temp: keys are never
// persisted and everything else is session-local. Both stores return merged
// snapshots and apply a turn together with its state delta atomically.
package session

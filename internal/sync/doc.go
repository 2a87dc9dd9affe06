// Package sync drains the offline queue into the remote record store.
//
// Overview
//
// An Engine runs sync passes. A pass probes connectivity, reads every
// unsynced queue entry oldest first, and applies them one at a time:
//
//	queue entry ──► CreateTransaction ──► GetProfile ──► apply delta ──► UpdateProfile ──► MarkSynced
//
// The remote profile is re-read for every entry, so the remote balance at
// the moment of application wins over anything cached locally. A failure at
// any step leaves that entry unsynced and the pass moves on to the next one.
// Entries are never applied in parallel: balance deltas are not commutative
// with concurrent external changes to the same profile.
//
// Guard
//
// Only one pass runs at a time per Engine. Timers, foreground events and
// manual calls can all ask for a pass; a request that arrives while a pass
// is running returns a zero Result without queuing a second pass.
//
// Cancellation
//
// Once a pass has passed the connectivity probe it runs to completion over
// its snapshot of entries. Every remote call is still bounded by
// Config.CallTimeout, so a hung call cannot hold the guard forever.
//
// Retry
//
// SyncWithRetry repeats a pass while it fails totally (failed > 0 and
// success == 0), waiting 2s, 4s, ... between attempts. A pass that applied
// anything, or had nothing to apply, ends the retry loop.
package sync

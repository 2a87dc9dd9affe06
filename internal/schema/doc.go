// Package schema defines the JSON records offsync keeps locally and exchanges
// with the remote record store.
//
// # Overview
//
// Four records flow through the system:
//
//   - QueuedTransaction: a user action captured while offline, persisted in
//     the local queue until a sync pass confirms it remotely.
//   - Transaction: the confirmed remote record, with a server-assigned ID.
//   - Profile: the remote balance and running totals, cached locally.
//   - DataBackup: a point-in-time snapshot of Profile and Transactions owned
//     by the integrity service.
//
// # Serialization
//
// Every record is stored as a JSON string under a fixed storage key. Field
// names follow the remote store's conventions (snake_case for remote
// records, camelCase for locally originated ones) so existing caches stay
// readable:
//
//	{
//	  "id": "8c6b9d1e-7c1e-4f0a-9d55-2a5c3f1e8b10",
//	  "seq": 3,
//	  "type": "earn",
//	  "amount": 10,
//	  "description": "Daily reward",
//	  "timestamp": "2026-01-10T07:36:29Z",
//	  "synced": false
//	}
//
// # Balance arithmetic
//
// Profile.Apply is the one place an earn/spend delta is applied. Balances are
// not floored at zero; a spend larger than the balance produces a negative
// balance, which must stay representable.
package schema

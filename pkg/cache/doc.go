// Package cache holds the denormalized tier snapshot used for read-only access
// decisions.
//
// Snapshots are eventually consistent with the payment provider. Webhook
// handlers call Invalidate after rewriting the directory store; billing
// authority is always derived from live membership, never from here.
package cache

// Package notify delivers transactional email through an external mail relay.
//
// Delivery is always best-effort: organization operations log a failed send and
// still report success.
package notify

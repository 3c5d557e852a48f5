// Package storage opens the relational directory store and runs transactions
// against it.
//
// Two dialects are supported. PostgreSQL is the production store: transactions
// run at SERIALIZABLE isolation, locking reads append FOR UPDATE, and
// serialization failures (40001, 40P01) are retried. SQLite serves local
// development and tests; it serializes writers with a database lock.
//
//	db, err := storage.Open(cfg)
//	err = db.InTx(ctx, func(q storage.Querier) error {
//		// every statement here sees one consistent snapshot
//		return nil
//	})
package storage

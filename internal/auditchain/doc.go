// Package auditchain implements the tamper-evident audit log of the document store.
//
// Every mutating action is written as an Entry whose Hash covers the entry's own
// fields and the Hash of the entry written before it. The first entry is the
// CHAIN_GENESIS entry; its PreviousHash is the public sentinel returned by
// Hasher.Sentinel. Tampering with any stored entry is detected by Verifier.
//
// Appends are linearised by Appender, a single goroutine that owns the chain tail.
// Three Store implementations are provided:
//   - MemoryStore: write-once, in-process, for tests and development.
//   - SQLiteStore: embedded, immutability enforced by triggers.
//   - PostgresStore: durable, immutability enforced by a plpgsql trigger.
package auditchain

// Package store defines the run ledger: the record of every index run, its
// status and where its postings were written. Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store

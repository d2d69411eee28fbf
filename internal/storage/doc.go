// Package storage is the SQLite persistence layer.
//
// It holds the user registry, force-subscribe channels, channel requests,
// the conversion log and the operator audit trail. The pure-Go modernc
// driver keeps the binary cgo-free.
package storage

//go:build !cgo

package storage

// IsCgoEnabled indicates whether the sqlite driver is usable
const IsCgoEnabled = false

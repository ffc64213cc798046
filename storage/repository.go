// Package storage provides encrypted envelopes and the repositories that hold
// them on the client device.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Repository stores sealed envelopes keyed by namespace, record type and
// record ID. Namespaces are created on first write.
type Repository interface {
	Put(namespace, recordType, recordID string, envelope *Envelope) error
	Get(namespace, recordType, recordID string) (*Envelope, error)
	Delete(namespace, recordType, recordID string) error
	List(namespace, recordType string) ([]string, error)
}

package storage

import "fmt"

// PersistenceError reports a failed storage operation. Callers must treat
// the write as not having happened.
type PersistenceError struct {
	Op  string // get, set, remove, encode, decode
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

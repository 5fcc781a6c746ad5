package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates a malformed or conflicting write.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrInsufficientQuota is returned by the checked share update when the
// user's available headroom cannot cover the requested quantity. Raised
// inside the ledger transaction, before any row changes.
var ErrInsufficientQuota = errors.New("repository: insufficient owned quota")

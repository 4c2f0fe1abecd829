package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidCatalog = errors.New("invalid catalog")
	ErrUnknownShop    = errors.New("unknown shop")
	ErrUnknownTrade   = errors.New("unknown trade")
	ErrNotPooled      = errors.New("shop does not use pooled stock")

	ErrInvalidBackend  = errors.New("invalid backend")
	ErrDataStoreAccess = errors.New("data store read/write error")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

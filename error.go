package match

import "errors"

var (
	ErrInvalidParam = errors.New("the param is invalid")
	ErrShutdown     = errors.New("service is shutting down")
	ErrNotFound     = errors.New("not found")
)

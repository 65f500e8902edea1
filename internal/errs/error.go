package errs

import (
	"errors"
)

var (
	ErrInvalidParam   = errors.New("[jremind] invalid param")
	ErrJobNotFound    = errors.New("[jremind] job not found")
	ErrJobConflict    = errors.New("[jremind] owner already has an active job")
	ErrJobTerminated  = errors.New("[jremind] job already terminated")
	ErrCursorMoved    = errors.New("[jremind] job cursor moved by another writer")
	ErrEngineFault    = errors.New("[jremind] engine fault")
	ErrRetryExhausted = errors.New("[jremind] retry attempts exhausted")
	ErrLocked         = errors.New("[jremind] resource locked by another owner")

	// 投递相关错误
	ErrTransientDelivery = errors.New("[jremind] transient delivery failure")
	ErrFormatRejected    = errors.New("[jremind] recipient address format rejected")
	ErrBreakerOpen       = errors.New("[jremind] circuit breaker is open")
	ErrInvalidAddress    = errors.New("[jremind] invalid recipient address")

	ErrInvalidBufferSize = errors.New("[jremind] buffer size must be greater than zero")
)

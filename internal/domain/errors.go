package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrUnknownBot    = errors.New("unknown bot id")
	ErrBotRunning    = errors.New("bot already running")
	ErrBotStopped    = errors.New("bot not running")
	ErrNoMarket      = errors.New("no suitable market")
	ErrMarketClosed  = errors.New("market closed")
	ErrLockHeld      = errors.New("lock already held")
)

package services

import (
	"errors"

	"bankledger/internal/db"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrIdentityNotFound     = errors.New("acting identity not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrUnauthorizedAccount  = errors.New("account does not belong to user")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSameAccountTransfer  = errors.New("cannot transfer to same account")
	ErrNoAccountsFound      = errors.New("no accounts found")
	ErrNumberSpaceExhausted = errors.New("could not allocate a free account number")
	ErrDuplicateRequest     = errors.New("duplicate client request id")

	ErrStorageConflict = db.ErrStorageConflict
	ErrStorageTimeout  = db.ErrStorageTimeout
)

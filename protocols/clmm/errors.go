package clmm

import "errors"

var (
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrInvalidTickSpacing     = errors.New("invalid tick spacing")
	ErrInvalidTick            = errors.New("invalid tick")
	ErrTickNotFound           = errors.New("tick not found")
	ErrInvalidFeeGrowth       = errors.New("invalid fee growth")
	ErrInvalidFeeRate         = errors.New("invalid fee rate")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidPool            = errors.New("invalid pool")
	ErrInvalidPosition        = errors.New("invalid position")
	ErrMathError              = errors.New("math error")
	ErrMultiplicationOverflow = errors.New("multiplication overflow")
	ErrDivisionByZero         = errors.New("division by zero")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrTokenMaxExceeded       = errors.New("token max exceeded")
	ErrTooManyIterations      = errors.New("too many iterations")

	// ErrPoolExists is returned when a pool for the asset pair has already been created.
	ErrPoolExists = errors.New("pool already exists")
)

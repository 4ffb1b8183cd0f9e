package config

import "errors"

var (
	ErrInvalidK           = errors.New("k must be >= 1")
	ErrInvalidAlpha       = errors.New("alpha must be in (k/2, k]")
	ErrInvalidBeta        = errors.New("beta and beta_finalize must be >= 1")
	ErrInvalidKMaxParents = errors.New("k_max_parents must be in [1, 8]")
	ErrInvalidHopRange    = errors.New("hop range must satisfy 3 <= min <= max <= 7")
)

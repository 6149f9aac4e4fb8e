package quota

import "errors"

// ErrQuotaExceeded signals that an identity hit its upload ceiling.
var ErrQuotaExceeded = errors.New("quota exceeded")

package validationengine

import "errors"

var (
	errNoReadyColumn = errors.New("reconciler output has no READY column")
	errMalformedRow  = errors.New("reconciler output row shorter than header")
)

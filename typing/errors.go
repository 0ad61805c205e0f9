package typing

import "errors"

var errReplaceUnsupported = errors.New("live text replacement not supported on this platform")

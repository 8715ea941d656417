package memory

import "errors"

// ErrEngineClosed is returned when operating on a closed engine.
var ErrEngineClosed = errors.New("engine is closed")

package log

import "errors"

var (
	errEmptyLogFilePath = errors.New("log: file sink requires a file path")
	errUnknownSinkType  = errors.New("log: unknown sink type")
)

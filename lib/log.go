package lib

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rudp")

// SetLogLevel sets the level of every rudp logger (debug, info, warn, error).
func SetLogLevel(level string) error {
	return logging.SetLogLevelRegex("rudp.*", level)
}

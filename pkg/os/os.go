package os

import (
	"os"
	"os/signal"
	"syscall"
)

// IsFile tells if the path is an existing regular file.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// ExpectTermination returns a channel which gets the first
// interrupt or termination signal of the app.
func ExpectTermination() <-chan os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	return signals
}

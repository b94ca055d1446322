package source

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsLikelyConnectionError checks if an error means the source went away and
// the provider should drop back to Disconnected and reconnect.
func IsLikelyConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrSourceUnavailable) {
		return true
	}

	// Check for EOF (replay file truncated, connection closed)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrClosed) {
		return true
	}

	// Check for network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Check for syscall errors (connection reset, broken pipe, etc.)
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Check error message for connection-related keywords
	errMsg := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"connection timed out",
		"not connected",
		"connection lost",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// Package iohelper provides helpers for safely reading HTTP response
// bodies with size limits. Certificate-transparency lookups can return
// very large JSON documents, so every read in this codebase is bounded.
package iohelper

import (
	"io"
	"log/slog"
)

// Body size limits for different use cases.
const (
	// SmallMaxBodySize is for status pages and error bodies (8KB).
	SmallMaxBodySize int64 = 8 * 1024

	// DefaultMaxBodySize is for general API responses (1MB).
	DefaultMaxBodySize int64 = 1024 * 1024

	// LargeMaxBodySize is for bulk record downloads such as crt.sh
	// query results (32MB).
	LargeMaxBodySize int64 = 32 * 1024 * 1024
)

// ReadBody reads from an io.Reader with a size limit.
// If r is nil, returns an empty slice and no error.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadBodyDefault reads from an io.Reader with the default 1MB limit.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultMaxBodySize)
}

// ReadBodyLarge reads from an io.Reader with the 32MB limit.
func ReadBodyLarge(r io.Reader) ([]byte, error) {
	return ReadBody(r, LargeMaxBodySize)
}

// ReadBodyOrLog reads the body using ReadBodyDefault and logs any error.
// It returns the body bytes, which may be nil on error.
func ReadBodyOrLog(r io.Reader, logger *slog.Logger) []byte {
	data, err := ReadBodyDefault(r)
	if err != nil && logger != nil {
		logger.Warn("body read failed", slog.String("error", err.Error()))
	}
	return data
}

// DrainAndClose reads any remaining data from r and closes it if it is a
// ReadCloser, so the underlying connection can be reused for keep-alive.
// Always returns nil to allow use in defer.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}

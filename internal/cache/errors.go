package cache

import "fmt"

// CacheError wraps cache layer failures with operation and key context.
type CacheError struct {
	Op  string // Op is the cache operation that failed
	Key string // Key is the cache key involved, if any
	Err error  // Err is the underlying error
}

// Error implements the error interface for CacheError.
func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s failed for key %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewSaveError creates a CacheError for save operations.
func NewSaveError(key string, err error) *CacheError {
	return &CacheError{Op: "save", Key: key, Err: err}
}

// NewLoadError creates a CacheError for load operations.
func NewLoadError(key string, err error) *CacheError {
	return &CacheError{Op: "load", Key: key, Err: err}
}

// NewExportError creates a CacheError for parquet export operations.
func NewExportError(key string, err error) *CacheError {
	return &CacheError{Op: "export", Key: key, Err: err}
}

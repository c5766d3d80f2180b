package domain

// Result holds either a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a valid value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps an error. A nil error is not allowed.
func Fail[T any](err error) Result[T] {
	if err == nil {
		panic("domain.Fail called with nil error")
	}
	return Result[T]{err: err}
}

// Valid reports whether the result carries a value.
func (r Result[T]) Valid() bool { return r.err == nil }

// Value returns the wrapped value, or the zero value for a failed result.
func (r Result[T]) Value() T { return r.value }

// Err returns the wrapped error, or nil for a valid result.
func (r Result[T]) Err() error { return r.err }

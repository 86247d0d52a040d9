package utils

import (
	"errors"
)

func Map[T1, T2 any](slice []T1, f func(T1) T2) []T2 {
	if slice == nil {
		return nil
	}

	result := make([]T2, len(slice))
	for i, e := range slice {
		result[i] = f(e)
	}

	return result
}

// RunAndWrapOnError runs the given function and wraps the error with the provided error
// if the function fails.
func RunAndWrapOnError(runnable func() error, existingError error) error {
	if runnableErr := runnable(); runnableErr != nil {
		return errors.Join(existingError, runnableErr)
	}
	return existingError
}

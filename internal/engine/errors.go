package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

type notFoundError struct{ what string }

func (e notFoundError) Error() string { return e.what + " not found" }
func (e notFoundError) Unwrap() error { return repo.ErrNotFound }
func (e notFoundError) StatusCode() int { return http.StatusNotFound }

type inputError struct{}

func (inputError) Error() string { return "invalid input" }
func (inputError) StatusCode() int { return http.StatusBadRequest }

var (
	// ErrProjectNotFound matches repo.ErrNotFound under errors.Is.
	ErrProjectNotFound error = notFoundError{what: "project"}
	ErrInvalidInput    error = inputError{}
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// InvalidTransitionError reports a transition requested from a status that
// does not permit it.
type InvalidTransitionError struct {
	Transition domain.Transition
	Current    domain.Status
	Allowed    []domain.Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := lo.Map(e.Allowed, func(s domain.Status, _ int) string { return string(s) })
	return fmt.Sprintf("cannot %s project: current status is %q, must be one of: %s",
		strings.ReplaceAll(string(e.Transition), "_", "-"), string(e.Current), strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) StatusCode() int { return http.StatusBadRequest }

// StatusCode maps an engine error to an HTTP-style code. Errors that carry
// no code are store failures.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	if errors.Is(err, repo.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

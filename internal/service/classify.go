package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"bookgen/internal/core/domain"
)

// phase tells classification whether an error happened while starting a job
// or while polling it. Start has no retries, so everything there is fatal.
type phase int

const (
	phaseStart phase = iota
	phasePoll
)

func connectivityFailure(err error) *domain.Failure {
	return &domain.Failure{
		Kind:    domain.FailureConnectivity,
		Message: "Cannot reach the book generation service. Check your connection and try again.",
		Fatal:   true,
		Err:     err,
	}
}

func classify(err error, ph phase) *domain.Failure {
	f := &domain.Failure{Err: err, Fatal: ph == phaseStart}

	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			f.Kind = domain.FailureAuth
			f.Message = "Authentication failed. Please sign in again."
			f.Fatal = true
		case apiErr.StatusCode == http.StatusForbidden:
			f.Kind = domain.FailurePermission
			f.Message = "You do not have permission to generate books."
			f.Fatal = true
		case apiErr.StatusCode == http.StatusNotFound && ph == phaseStart:
			f.Kind = domain.FailureNothingToDo
			f.Message = "There are no pending books to generate."
		case apiErr.StatusCode == http.StatusNotFound:
			f.Kind = domain.FailureNotFound
			f.Message = "Generation job not found or expired."
			f.Fatal = true
		case apiErr.StatusCode >= http.StatusInternalServerError:
			f.Kind = domain.FailureServer
			f.Message = "The generation service reported an internal error."
		default:
			f.Kind = domain.FailureUnknown
			f.Message = "The generation service rejected the request."
		}
	case errors.Is(err, domain.ErrMalformedResponse):
		f.Kind = domain.FailureMalformed
		f.Message = "The generation service returned an unexpected response."
	case isNetworkError(err):
		f.Kind = domain.FailureNetwork
		f.Message = "Connection problem while talking to the generation service. Retrying..."
		if ph == phaseStart {
			f.Message = "Connection problem while starting book generation."
		}
	default:
		f.Kind = domain.FailureUnknown
		f.Message = "Unexpected error while tracking book generation."
	}
	return f
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Package api — HTTP surface of the guard engine, with RFC 7807 Problem
// Detail error responses.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tessara-labs/payguard/pkg/fault"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Kind carries the engine's structured failure kind when available.
	Kind string `json:"kind,omitempty"`
	// GuardID names the failing guard for policy violations.
	GuardID string `json:"guard_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://payguard.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteFault maps an engine fault to the right status code and writes it.
// Internal detail never leaks: unknown errors become a generic 500.
func WriteFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	switch kind {
	case fault.KindNotFound:
		writeKind(w, http.StatusNotFound, "Not Found", err, kind)
	case fault.KindConflict:
		writeKind(w, http.StatusConflict, "Conflict", err, kind)
	case fault.KindPolicyViolation:
		writeKind(w, http.StatusUnprocessableEntity, "Policy Violation", err, kind)
	case fault.KindSettlementFailure:
		writeKind(w, http.StatusBadGateway, "Settlement Failed", err, kind)
	case fault.KindHistoryUnavailable:
		writeKind(w, http.StatusServiceUnavailable, "History Unavailable", err, kind)
	default:
		slog.Error("internal server error", "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal Server Error",
			"An unexpected error occurred. Please try again later.")
	}
}

func writeKind(w http.ResponseWriter, status int, title string, err error, kind fault.Kind) {
	p := &ProblemDetail{
		Type:   fmt.Sprintf("https://payguard.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: err.Error(),
		Kind:   string(kind),
	}
	writeProblem(w, p)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

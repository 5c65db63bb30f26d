package workflows

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JaimeStill/concord/internal/decision"
)

// Domain errors for workflow operations.
var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrReviewNotFound       = errors.New("review not found")
	ErrReviewerNotFound     = errors.New("reviewer not found")
	ErrDuplicateAssignment  = errors.New("reviewer already assigned to this workflow")
	ErrAlreadySubmitted     = errors.New("review already submitted")
	ErrAlreadyResponded     = errors.New("assignment already accepted or declined")
	ErrAssignmentDeclined   = errors.New("assignment was declined")
	ErrInvalidConfiguration = errors.New("invalid workflow configuration")
	ErrInvalidRole          = errors.New("invalid reviewer role")
	ErrInvalidReview        = errors.New("invalid review")
	ErrInvalidVote          = errors.New("invalid vote")
	ErrInvalidStatus        = errors.New("operation not allowed in current workflow status")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidID            = errors.New("invalid id")
	ErrInsufficientData     = fmt.Errorf("insufficient data to finalize: %w", decision.ErrInsufficientData)
)

// MapHTTPStatus maps workflow domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, ErrReviewNotFound),
		errors.Is(err, ErrReviewerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateAssignment),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrAlreadyResponded),
		errors.Is(err, ErrAssignmentDeclined),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrInvalidReview),
		errors.Is(err, ErrInvalidVote):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientData):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

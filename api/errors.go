package api

import (
	"net/http"

	"verdantdo/dashboard"
	"verdantdo/gateway"
)

type errorBody struct {
	Kind    gateway.Kind `json:"kind"`
	Message string       `json:"message"`
}

type mutationResponse struct {
	Notice   *dashboard.Notice `json:"notice,omitempty"`
	Task     any               `json:"task,omitempty"`
	Category any               `json:"category,omitempty"`
	Error    *errorBody        `json:"error,omitempty"`
}

// statusFor maps a failed mutation onto an HTTP status code.
func statusFor(err *gateway.Error) int {
	switch err.Kind {
	case gateway.KindInvalid:
		return http.StatusBadRequest
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindPermissionDenied:
		return http.StatusForbidden
	case gateway.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func noticePtr(n dashboard.Notice) *dashboard.Notice {
	if n.IsZero() {
		return nil
	}
	return &n
}

func failure(err *gateway.Error, n dashboard.Notice) (int, mutationResponse) {
	return statusFor(err), mutationResponse{
		Notice: noticePtr(n),
		Error:  &errorBody{Kind: err.Kind, Message: err.Err.Error()},
	}
}

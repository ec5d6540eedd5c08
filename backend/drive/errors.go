package drive

import (
	"errors"

	"google.golang.org/api/googleapi"

	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// classify maps a Drive API error to the remote.Kind taxonomy. Network
// errors that never reach the HTTP layer (dial failures, context
// deadlines) have no *googleapi.Error and are treated as transport
// failures.
func classify(err error) remote.Kind {
	if err == nil {
		return remote.KindUnknown
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 404:
			return remote.KindNotFound
		case 401:
			return remote.KindAuthenticationFailed
		case 403:
			if isRateLimited(err) {
				return remote.KindUnavailable
			}
			return remote.KindAccessDenied
		case 409:
			return remote.KindAlreadyExists
		case 429:
			return remote.KindUnavailable
		case 408:
			return remote.KindTimedOut
		}
		if gerr.Code >= 500 {
			return remote.KindUnavailable
		}
		return remote.KindFatal
	}
	return remote.KindUnavailable
}

// isRateLimited reports whether err is a Drive rate-limit response (HTTP
// 429, or HTTP 403 carrying one of the rate-limit reason codes the Drive
// API uses instead of 429 for some quota classes).
func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == 429 {
		return true
	}
	if gerr.Code != 403 {
		return false
	}
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return remote.NewError(op, path, classify(err), err)
}

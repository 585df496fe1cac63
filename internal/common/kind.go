package common

import "errors"

// Kind is the coarse failure class a transport layer branches on.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindInvalidCredentials
	KindLocked
	KindExpired
	KindReuseDetected
	KindUnauthenticated
	KindValidation
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindNone:               "none",
	KindNotFound:           "not_found",
	KindInvalidCredentials: "invalid_credentials",
	KindLocked:             "locked",
	KindExpired:            "expired",
	KindReuseDetected:      "reuse_detected",
	KindUnauthenticated:    "unauthenticated",
	KindValidation:         "validation",
	KindUnexpected:         "unexpected",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// KindOf classifies err. A nil error is KindNone, anything unrecognised is
// KindUnexpected.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrReuseDetected):
		return KindReuseDetected
	case errors.Is(err, ErrTokenExpired):
		return KindExpired
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrInvalidToken):
		return KindInvalidCredentials
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorNotConfigured):
		return KindNotFound
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrPasswordAlreadySet):
		return KindValidation
	default:
		return KindUnexpected
	}
}

// PublicMessage returns the text safe to show to an end user. Credential
// failures collapse into one generic message; validation errors keep their
// detail.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindNotFound, KindInvalidCredentials:
		return "Invalid credentials."
	case KindLocked:
		return "User is locked out."
	case KindExpired:
		return "Token expired."
	case KindReuseDetected:
		return "Refresh token reuse detected. All sessions revoked."
	case KindUnauthenticated:
		return "Authentication required."
	case KindValidation:
		return err.Error()
	default:
		return "An unexpected error occurred."
	}
}

package auth

// State of the token lifecycle
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Reasons a session is cleared, passed to the Navigator
const (
	ReasonSignOut            = "sign_out"
	ReasonRefreshFailed      = "refresh_failed"
	ReasonRetryUnauthorized  = "retry_unauthorized"
	ReasonSignedOutElsewhere = "signed_out_elsewhere"
)

// Navigator performs the full navigation to the sign-in route once a
// session has been cleared
type Navigator interface {
	RedirectToSignIn(reason string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(reason string)

// RedirectToSignIn calls f
func (f NavigatorFunc) RedirectToSignIn(reason string) {
	f(reason)
}

package wallbox

import "fmt"

// NetworkError wraps a transport failure where no HTTP response was
// received at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: no response from vendor API: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from the vendor API.
type HTTPError struct {
	Op   string
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: vendor API returned status %d", e.Op, e.Code)
}

// DecodeError is a response body that could not be decoded into the
// endpoint's expected shape.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AuthError is reported when the session could not be kept valid: the
// refresh failed and the fallback sign-in failed too.
type AuthError struct {
	RefreshErr error
	SigninErr  error
}

func (e *AuthError) Error() string {
	if e.SigninErr != nil {
		return fmt.Sprintf("authentication failed: refresh: %v, signin: %v", e.RefreshErr, e.SigninErr)
	}
	return fmt.Sprintf("authentication failed: %v", e.RefreshErr)
}

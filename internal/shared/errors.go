package shared

import (
	"fmt"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

var (
	// ErrInvalidCredentials indicates login failure. The same error covers
	// unknown accounts, wrong passwords, and deactivated accounts so the
	// response never reveals which one applied.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthenticated)
)

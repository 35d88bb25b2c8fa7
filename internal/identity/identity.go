// Package identity names the writer whose stories are being edited. There is
// no sign-in flow: the local user is always authenticated.
package identity

import (
	"os"
	"os/user"
	"strings"

	"kahani/internal/config"
)

// Identity is the auth collaborator the library and editor consult.
type Identity interface {
	UserID() string
	Authenticated() bool
}

// Static is a fixed identity. The zero value is signed out.
type Static string

func (s Static) UserID() string      { return string(s) }
func (s Static) Authenticated() bool { return s != "" }

// FromConfig returns the configured user id, falling back to the OS user.
func FromConfig(cfg config.IdentityConfig) Identity {
	if id := strings.TrimSpace(cfg.UserID); id != "" {
		return Static(id)
	}
	return FromOS()
}

// FromOS returns the current OS user name, or a signed-out identity when it
// cannot be determined.
func FromOS() Identity {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return Static(u.Username)
	}
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return Static(v)
		}
	}
	return Static("")
}

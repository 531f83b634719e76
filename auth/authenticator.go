package auth

import (
	"log/slog"

	"github.com/c360/squawkbus/wire"
)

// Authentication method names accepted on the wire.
const (
	MethodNone     = "NONE"
	MethodPlain    = "PLAIN"
	MethodHtpasswd = "HTPASSWD"
)

// AnonymousUser is the identity assigned when no user name is supplied.
const AnonymousUser = "nobody"

// Authenticator verifies an AuthenticationRequest and yields the
// authenticated user name.
type Authenticator struct {
	passwords *PasswordFile // nil when no password file configured
	logger    *slog.Logger
}

// NewAuthenticator creates an authenticator. passwords may be nil,
// which disables the HTPASSWD method.
func NewAuthenticator(passwords *PasswordFile, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		passwords: passwords,
		logger:    logger.With("component", "authenticator"),
	}
}

// Authenticate resolves (method, data) to a user name. The boolean is
// false when the credentials are refused or the method is unknown.
func (a *Authenticator) Authenticate(method string, data []byte) (string, bool) {
	switch method {
	case MethodNone:
		return AnonymousUser, true

	case MethodPlain:
		if len(data) == 0 {
			return AnonymousUser, true
		}
		return string(data), true

	case MethodHtpasswd:
		return a.authenticateHtpasswd(data)

	default:
		a.logger.Warn("Unknown authentication method", "method", method)
		return "", false
	}
}

// authenticateHtpasswd decodes the credential blob, itself one frame
// carrying "string user, string password", and verifies it against the
// password file.
func (a *Authenticator) authenticateHtpasswd(data []byte) (string, bool) {
	if a.passwords == nil {
		a.logger.Warn("HTPASSWD authentication requested but no password file loaded")
		return "", false
	}

	reader := wire.NewFrameReader()
	reader.Write(data)
	if !reader.HasFrame() {
		a.logger.Warn("Invalid HTPASSWD credential blob")
		return "", false
	}
	frame, err := reader.Read()
	if err != nil {
		a.logger.Warn("Invalid HTPASSWD credential blob", "error", err)
		return "", false
	}

	user, err := frame.String()
	if err != nil {
		return "", false
	}
	password, err := frame.String()
	if err != nil {
		return "", false
	}

	if !a.passwords.Verify(user, password) {
		a.logger.Info("Failed authentication", "user", user)
		return "", false
	}
	return user, true
}

// Reload re-reads the password file, if one is configured.
func (a *Authenticator) Reload() error {
	if a.passwords == nil {
		return nil
	}
	return a.passwords.Reload()
}

package auth

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/c360/squawkbus/errors"
)

// PasswordFile holds htpasswd-style credentials: lines of "user:hash",
// lines starting with "#" skipped. Supported hash forms are bcrypt
// ($2a$/$2b$/$2y$), SHA-1 ({SHA}) and plain text.
type PasswordFile struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// LoadPasswordFile reads and parses a password file.
func LoadPasswordFile(path string) (*PasswordFile, error) {
	pf := &PasswordFile{path: path}
	if err := pf.Reload(); err != nil {
		return nil, err
	}
	return pf, nil
}

// Reload re-reads the password file, replacing all entries.
func (pf *PasswordFile) Reload() error {
	f, err := os.Open(pf.path)
	if err != nil {
		return errors.WrapFatal(err, "auth", "Reload", "open password file")
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, credential, found := strings.Cut(line, ":")
		if !found {
			return errors.WrapFatal(
				fmt.Errorf("line %d: missing ':' separator", lineNo),
				"auth", "Reload", "parse password record")
		}
		entries[user] = credential
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapFatal(err, "auth", "Reload", "read password file")
	}

	pf.mu.Lock()
	pf.entries = entries
	pf.mu.Unlock()
	return nil
}

// Verify reports whether the password matches the stored credential
// for user.
func (pf *PasswordFile) Verify(user, password string) bool {
	pf.mu.RLock()
	credential, ok := pf.entries[user]
	pf.mu.RUnlock()
	if !ok {
		return false
	}

	switch {
	case strings.HasPrefix(credential, "$2a$"),
		strings.HasPrefix(credential, "$2b$"),
		strings.HasPrefix(credential, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(credential), []byte(password)) == nil

	case strings.HasPrefix(credential, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		encoded := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(credential[len("{SHA}"):]), []byte(encoded)) == 1

	default:
		return subtle.ConstantTimeCompare([]byte(credential), []byte(password)) == 1
	}
}

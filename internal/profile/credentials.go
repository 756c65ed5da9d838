package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials holds the authenticated identity for a profile. Obtained from
// the marketplace login flow and stored at credentials.toml; this client
// never performs the login itself.
type Credentials struct {
	UserID      string `toml:"user_id"`
	Token       string `toml:"token"`
	DisplayName string `toml:"display_name"`
}

// LoadCredentials reads credentials for the given profile.
func LoadCredentials(name string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(CredentialsPath(name), &creds); err != nil {
		return nil, fmt.Errorf("load credentials for profile %q: %w", name, err)
	}
	if creds.UserID == "" || creds.Token == "" {
		return nil, fmt.Errorf("credentials for profile %q are incomplete", name)
	}
	return &creds, nil
}

// SaveCredentials writes credentials for the given profile with 0600 permissions.
func SaveCredentials(name string, creds *Credentials) error {
	path := CredentialsPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

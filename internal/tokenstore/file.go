package tokenstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type sessionFile struct {
	Token  string `json:"token,omitempty"`
	Sealed string `json:"sealed,omitempty"`
}

// File stores the token in a JSON document. With a passphrase the token is sealed
// and the plaintext never reaches the disk.
type File struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

func NewFile(path, passphrase string) *File {
	f := &File{path: path}
	if passphrase != "" {
		f.passphrase = []byte(passphrase)
	}
	return f
}

// DefaultPath returns $XDG_CONFIG_HOME/helpdesk/session.json, falling back to ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "helpdesk-session.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "helpdesk", "session.json")
}

func (f *File) Path() string { return f.path }

func (f *File) Load(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("tokenstore: reading %s: %w", f.path, err)
	}

	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("tokenstore: parsing %s: %w", f.path, err)
	}
	if doc.Sealed == "" {
		return doc.Token, nil
	}
	if f.passphrase == nil {
		return "", fmt.Errorf("%w: %s needs a passphrase", ErrSealed, f.path)
	}

	blob, err := base64.StdEncoding.DecodeString(doc.Sealed)
	if err != nil {
		return "", fmt.Errorf("tokenstore: decoding %s: %w", f.path, err)
	}
	plain, err := open(blob, f.passphrase)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (f *File) Save(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := sessionFile{Token: token}
	if f.passphrase != nil {
		blob, err := seal([]byte(token), f.passphrase)
		if err != nil {
			return err
		}
		doc = sessionFile{Sealed: base64.StdEncoding.EncodeToString(blob)}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: marshaling session: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tokenstore: creating %s: %w", dir, err)
	}

	// atomic replace
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: writing session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("tokenstore: replacing %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokenstore: removing %s: %w", f.path, err)
	}
	return nil
}

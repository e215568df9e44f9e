package credentials

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"gopkg.in/yaml.v3"
)

// FileStore keeps a YAML map of hostname to Credentials encrypted with age.
// It encrypts to an X25519 identity file, created on first write when absent,
// or to a passphrase when one is configured.
type FileStore struct {
	path         string
	identityPath string
	passphrase   string

	mu sync.Mutex
}

type FileOption func(*FileStore)

// WithIdentityFile sets the age identity file. Defaults to identity.txt next
// to the store.
func WithIdentityFile(path string) FileOption {
	return func(s *FileStore) { s.identityPath = path }
}

// WithPassphrase encrypts with an scrypt passphrase instead of an identity.
func WithPassphrase(passphrase string) FileOption {
	return func(s *FileStore) { s.passphrase = passphrase }
}

func NewFileStore(path string, opts ...FileOption) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.identityPath == "" {
		s.identityPath = filepath.Join(filepath.Dir(path), "identity.txt")
	}
	return s
}

func (*FileStore) Name() string { return "age-file" }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, hostname string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return Credentials{}, err
	}
	creds, ok := entries[hostname]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	if creds.Server == "" {
		creds.Server = hostname
	}
	return creds, nil
}

func (s *FileStore) Set(_ context.Context, hostname string, creds Credentials) error {
	if strings.TrimSpace(hostname) == "" {
		return errors.New("hostname is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	if creds.Server == "" {
		creds.Server = hostname
	}
	entries[hostname] = creds
	return s.save(entries)
}

func (s *FileStore) Delete(_ context.Context, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[hostname]; !ok {
		return ErrNotFound
	}
	delete(entries, hostname)
	return s.save(entries)
}

func (s *FileStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for h := range entries {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) load() (map[string]Credentials, error) {
	entries := map[string]Credentials{}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	identity, err := s.identity(false)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential file: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted credentials: %w", err)
	}
	if err := yaml.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	if entries == nil {
		entries = map[string]Credentials{}
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string]Credentials) error {
	plain, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	recipient, err := s.recipient()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

func (s *FileStore) recipient() (age.Recipient, error) {
	if s.passphrase != "" {
		r, err := age.NewScryptRecipient(s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt recipient: %w", err)
		}
		return r, nil
	}
	id, err := s.identity(true)
	if err != nil {
		return nil, err
	}
	return id.(*age.X25519Identity).Recipient(), nil
}

// identity loads the age identity, generating and saving a new X25519 one
// when create is set and the file does not exist.
func (s *FileStore) identity(create bool) (age.Identity, error) {
	if s.passphrase != "" {
		id, err := age.NewScryptIdentity(s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt identity: %w", err)
		}
		return id, nil
	}
	raw, err := os.ReadFile(s.identityPath)
	if errors.Is(err, os.ErrNotExist) && create {
		return s.generateIdentity()
	}
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
		return id, nil
	}
	return nil, fmt.Errorf("no identity in %s", s.identityPath)
}

func (s *FileStore) generateIdentity() (age.Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), id.Recipient(), id)
	if err := writeFileAtomic(s.identityPath, []byte(content)); err != nil {
		return nil, err
	}
	return id, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

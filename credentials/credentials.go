// Package credentials stores VNC server credentials keyed by hostname.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("credentials not found")
	ErrReadOnly = errors.New("credential store is read-only")
)

// Credentials hold a server address (host::port or host:display) and an
// optional password.
type Credentials struct {
	Server   string `yaml:"server" json:"server"`
	Password string `yaml:"password,omitempty" json:"-"`
}

func (c Credentials) String() string {
	pw := "(none)"
	if c.Password != "" {
		pw = "***"
	}
	return fmt.Sprintf("server=%s password=%s", c.Server, pw)
}

type Store interface {
	Name() string
	Get(ctx context.Context, hostname string) (Credentials, error)
	Set(ctx context.Context, hostname string, creds Credentials) error
	Delete(ctx context.Context, hostname string) error
	List(ctx context.Context) ([]string, error)
}

// EnvStore serves a single server from VNC_SERVER and VNC_PASSWORD for any
// hostname.
type EnvStore struct {
	Lookup func(string) (string, bool)
}

func (EnvStore) Name() string { return "env" }

func (s EnvStore) lookup(key string) string {
	fn := s.Lookup
	if fn == nil {
		fn = os.LookupEnv
	}
	v, _ := fn(key)
	return strings.TrimSpace(v)
}

func (s EnvStore) Get(_ context.Context, _ string) (Credentials, error) {
	server := s.lookup("VNC_SERVER")
	if server == "" {
		return Credentials{}, ErrNotFound
	}
	return Credentials{Server: server, Password: s.lookup("VNC_PASSWORD")}, nil
}

func (EnvStore) Set(context.Context, string, Credentials) error { return ErrReadOnly }

func (EnvStore) Delete(context.Context, string) error { return ErrReadOnly }

func (s EnvStore) List(context.Context) ([]string, error) {
	if server := s.lookup("VNC_SERVER"); server != "" {
		return []string{server}, nil
	}
	return nil, nil
}

// Chain consults stores in order. Writes go to the first store that accepts
// them; deletes go to every store.
type Chain struct {
	stores []Store
	logger *zap.Logger
}

func NewChain(logger *zap.Logger, stores ...Store) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{stores: stores, logger: logger.Named("credentials")}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.stores))
	for _, s := range c.stores {
		names = append(names, s.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *Chain) Get(ctx context.Context, hostname string) (Credentials, error) {
	for _, s := range c.stores {
		creds, err := s.Get(ctx, hostname)
		if err == nil {
			c.logger.Debug("credentials found", zap.String("hostname", hostname), zap.String("store", s.Name()))
			return creds, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credentials{}, fmt.Errorf("%s store: %w", s.Name(), err)
		}
	}
	return Credentials{}, fmt.Errorf("%w for %s", ErrNotFound, hostname)
}

func (c *Chain) Set(ctx context.Context, hostname string, creds Credentials) error {
	for _, s := range c.stores {
		err := s.Set(ctx, hostname, creds)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		if err == nil {
			c.logger.Info("credentials stored", zap.String("hostname", hostname), zap.String("store", s.Name()))
		}
		return err
	}
	return fmt.Errorf("no writable credential store: %w", ErrReadOnly)
}

func (c *Chain) Delete(ctx context.Context, hostname string) error {
	deleted := false
	for _, s := range c.stores {
		err := s.Delete(ctx, hostname)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrReadOnly):
		default:
			return fmt.Errorf("%s store: %w", s.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrNotFound, hostname)
	}
	return nil
}

func (c *Chain) List(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for _, s := range c.stores {
		hosts, err := s.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s store: %w", s.Name(), err)
		}
		for _, h := range hosts {
			seen[h] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

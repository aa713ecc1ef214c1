package pool

import (
	"context"
	"fmt"

	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/nntp"
)

// DialerFactory builds the session dialer for a configuration.
type DialerFactory func(cfg *config.Config) nntp.DialFunc

// NewDialer returns a DialFunc opening sessions to the configured provider.
func NewDialer(cfg *config.Config) nntp.DialFunc {
	return nntp.DialerFor(cfg.ToNNTPOptions())
}

// TestProvider opens and closes one session to check host, credentials and proxy.
// Used by "config test" before credentials are trusted for a full pool.
func TestProvider(ctx context.Context, cfg *config.Config) error {
	if cfg.Provider.Host == "" {
		return fmt.Errorf("provider host is not configured")
	}

	s, err := NewDialer(cfg)(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.ToNNTPOptions().Address(), err)
	}
	return s.Close()
}

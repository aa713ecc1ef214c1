package pool

import (
	"context"
	"log/slog"

	"github.com/javi11/nzbinspect/internal/config"
)

// RegisterConfigHandlers rebuilds the pool whenever provider or pool tuning changes
func RegisterConfigHandlers(ctx context.Context, configManager *config.Manager, poolManager Manager) {
	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		slog.InfoContext(ctx, "Configuration updated")

		if oldConfig != nil && oldConfig.ProviderEqual(newConfig) {
			return
		}

		slog.InfoContext(ctx, "NNTP provider changed - updating connection pool",
			"host", newConfig.Provider.Host,
			"max_connections", newConfig.Provider.MaxConnections)

		if err := poolManager.SetProvider(newConfig); err != nil {
			slog.ErrorContext(ctx, "Failed to update NNTP connection pool", "err", err)
			return
		}

		if newConfig.Provider.Host == "" {
			slog.InfoContext(ctx, "NNTP connection pool cleared - no provider configured")
		} else {
			slog.InfoContext(ctx, "NNTP connection pool updated successfully")
		}
	})
}

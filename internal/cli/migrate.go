package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/mlevkov/tasksync/internal/remote/postgres"
)

// Migrate brings the remote schema up to date. Intended for development
// and self-hosted deployments; managed backends run migrations elsewhere.
func (a *App) Migrate(ctx context.Context) error {
	if err := postgres.MigrateDSN(ctx, a.config.RemoteDSN); err != nil {
		log.Printf("migration failed: %v", err)
		return err
	}
	fmt.Println("Remote schema is up to date")
	return nil
}

package commands

import (
	"context"
	"fmt"

	aqm "github.com/appetiteclub/apt"
	"github.com/expeditehq/expedite/internal/mongo"
	"github.com/expeditehq/expedite/internal/ticket"
)

// SeedDemo applies the service demo seeds through the regular repositories so
// the CLI and the in-service seeding path stay identical.
func SeedDemo(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	logger.Info("Starting demo seeding...")

	ticketRepo := mongo.NewTicketRepo(config, logger)
	if err := ticketRepo.Start(ctx); err != nil {
		return fmt.Errorf("start ticket repository: %w", err)
	}
	defer ticketRepo.Stop(ctx)

	mirrorRepo := mongo.NewMirrorRepo(ticketRepo, logger)
	if err := mirrorRepo.Start(ctx); err != nil {
		return fmt.Errorf("start mirror repository: %w", err)
	}

	cache := ticket.NewTicketStateCache(nil, ticketRepo, logger)

	return ticket.ApplyDemoSeeds(ctx, ticketRepo, mirrorRepo, cache, ticketRepo.GetDatabase(), logger)
}

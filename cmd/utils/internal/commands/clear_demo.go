package commands

import (
	"context"
	"fmt"

	aqm "github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClearDemo removes demo tickets, demo order mirrors, and the seed tracker
// entry so seed-demo can run again.
func ClearDemo(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	logger.Info("Starting demo data cleanup...")

	client, err := connect(ctx, config)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	logger.Info("Connected to MongoDB")

	db := client.Database(serviceDatabase)
	return clearDemoData(ctx, db, logger)
}

func clearDemoData(ctx context.Context, db *mongo.Database, logger aqm.Logger) error {
	demoOrderFilter := bson.M{"_id": primitive.Regex{Pattern: "^demo-ord-", Options: ""}}

	mirrorsResult, err := db.Collection("order_mirrors").DeleteMany(ctx, demoOrderFilter)
	if err != nil {
		return fmt.Errorf("delete demo order mirrors: %w", err)
	}
	logger.Infof("Deleted %d demo order mirrors", mirrorsResult.DeletedCount)

	ticketFilter := bson.M{"external_order_id": primitive.Regex{Pattern: "^demo-ord-", Options: ""}}
	ticketsResult, err := db.Collection("tickets").DeleteMany(ctx, ticketFilter)
	if err != nil {
		return fmt.Errorf("delete demo tickets: %w", err)
	}
	logger.Infof("Deleted %d demo tickets", ticketsResult.DeletedCount)

	trackerResult, err := db.Collection("_seeds").DeleteOne(ctx, bson.M{"_id": "2026-08-01_demo_tickets_v1"})
	if err != nil {
		return fmt.Errorf("delete seed tracker: %w", err)
	}
	logger.Infof("Cleared seed tracker (deleted %d)", trackerResult.DeletedCount)

	return nil
}

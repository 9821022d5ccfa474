package mongo

import (
	"context"
	"fmt"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/expeditehq/expedite/internal/ticket"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MirrorRepo persists the local read replicas of external POS orders. It
// shares the TicketRepo's connection: Start must run after TicketRepo.Start.
type MirrorRepo struct {
	tickets    *TicketRepo
	collection *mongo.Collection
	logger     aqm.Logger
}

func NewMirrorRepo(tickets *TicketRepo, logger aqm.Logger) *MirrorRepo {
	return &MirrorRepo{
		tickets: tickets,
		logger:  logger,
	}
}

func (r *MirrorRepo) Start(ctx context.Context) error {
	db := r.tickets.GetDatabase()
	if db == nil {
		return fmt.Errorf("ticket repository not started")
	}
	r.collection = db.Collection("order_mirrors")

	locationIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "updated_at", Value: -1}},
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, locationIndex); err != nil {
		return fmt.Errorf("cannot create mirror location index: %w", err)
	}

	return nil
}

func (r *MirrorRepo) Stop(ctx context.Context) error {
	return nil
}

// Upsert writes only the fields the patch supplies, so a later partial write
// never erases mirrored data the feed did not resend.
func (r *MirrorRepo) Upsert(ctx context.Context, patch ticket.OrderMirrorPatch) error {
	if patch.ExternalOrderID == "" {
		return &ticket.ValidationError{Field: "external_order_id", Reason: "must not be empty"}
	}

	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	set := bson.M{"updated_at": updatedAt}
	if patch.LocationID != nil {
		set["location_id"] = *patch.LocationID
	}
	if patch.State != nil {
		set["state"] = *patch.State
	}
	if patch.Source != nil {
		set["source"] = *patch.Source
	}
	if patch.ReferenceID != nil {
		set["reference_id"] = *patch.ReferenceID
	}
	if patch.LineItems != nil {
		set["line_items"] = patch.LineItems
	}
	if patch.Metadata != nil {
		set["metadata"] = patch.Metadata
	}

	createdAt := time.Now()
	if patch.CreatedAt != nil {
		createdAt = *patch.CreatedAt
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": createdAt},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": patch.ExternalOrderID}, update, opts); err != nil {
		return fmt.Errorf("cannot upsert order mirror: %w", err)
	}
	return nil
}

func (r *MirrorRepo) FindByID(ctx context.Context, externalOrderID string) (*ticket.OrderMirror, error) {
	var m ticket.OrderMirror
	err := r.collection.FindOne(ctx, bson.M{"_id": externalOrderID}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, &ticket.NotFoundError{Kind: "order mirror", ID: externalOrderID}
		}
		return nil, fmt.Errorf("cannot find order mirror: %w", err)
	}
	return &m, nil
}

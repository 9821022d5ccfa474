package mongo

import (
	"context"
	"fmt"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var activeStatuses = []string{
	ticketstatus.Statuses.Placed.Code(),
	ticketstatus.Statuses.Preparing.Code(),
	ticketstatus.Statuses.Ready.Code(),
}

type TicketRepo struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	logger     aqm.Logger
	config     *aqm.Config
}

func NewTicketRepo(config *aqm.Config, logger aqm.Logger) *TicketRepo {
	return &TicketRepo{
		logger: logger,
		config: config,
	}
}

func (r *TicketRepo) Start(ctx context.Context) error {
	mongoURL, _ := r.config.GetString("db.mongo.url")
	if mongoURL == "" {
		mongoURL = "mongodb://localhost:27017"
	}

	dbName, _ := r.config.GetString("db.mongo.name")
	if dbName == "" {
		dbName = "expedite"
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)
	r.collection = r.db.Collection("tickets")

	externalIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "external_order_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, externalIndex); err != nil {
		return fmt.Errorf("cannot create external_order_id index: %w", err)
	}

	boardIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "status", Value: 1}},
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, boardIndex); err != nil {
		return fmt.Errorf("cannot create location/status index: %w", err)
	}

	queueIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "priority_order", Value: 1}},
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, queueIndex); err != nil {
		return fmt.Errorf("cannot create queue index: %w", err)
	}

	r.logger.Infof("Connected to MongoDB: %s, database: %s, collection: tickets", mongoURL, dbName)
	return nil
}

func (r *TicketRepo) GetDatabase() *mongo.Database {
	return r.db
}

func (r *TicketRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

func (r *TicketRepo) Create(ctx context.Context, t *ticket.Ticket) error {
	now := time.Now()
	if t.PlacedAt.IsZero() {
		t.PlacedAt = now
	}
	t.UpdatedAt = now
	t.ModelVersion = 1

	_, err := r.collection.InsertOne(ctx, t)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Unique external_order_id: a concurrent creator won.
			return &ticket.ConflictError{ID: t.ID}
		}
		return fmt.Errorf("cannot insert ticket: %w", err)
	}
	return nil
}

// UpdateIf persists t only when the stored document still matches the
// expected status and model version, the optimistic-concurrency guard for
// all status writes.
func (r *TicketRepo) UpdateIf(ctx context.Context, t *ticket.Ticket, expectedStatus string, expectedVersion int) error {
	t.UpdatedAt = time.Now()
	t.ModelVersion = expectedVersion + 1

	filter := bson.M{
		"_id":           t.ID,
		"status":        expectedStatus,
		"model_version": expectedVersion,
	}
	update := bson.M{"$set": t}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("cannot update ticket: %w", err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a lost race from a missing document.
		count, cerr := r.collection.CountDocuments(ctx, bson.M{"_id": t.ID})
		if cerr == nil && count == 0 {
			return &ticket.NotFoundError{Kind: "ticket", ID: t.ID.String()}
		}
		return &ticket.ConflictError{ID: t.ID}
	}
	return nil
}

func (r *TicketRepo) FindByID(ctx context.Context, id ticket.TicketID) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, &ticket.NotFoundError{Kind: "ticket", ID: id.String()}
		}
		return nil, fmt.Errorf("cannot find ticket: %w", err)
	}
	return &t, nil
}

func (r *TicketRepo) FindByExternalOrderID(ctx context.Context, externalOrderID string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := r.collection.FindOne(ctx, bson.M{"external_order_id": externalOrderID}).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find ticket by external_order_id: %w", err)
	}
	return &t, nil
}

func (r *TicketRepo) List(ctx context.Context, filter ticket.TicketFilter) ([]ticket.Ticket, error) {
	query := bson.M{}

	if filter.LocationID != nil {
		query["location_id"] = *filter.LocationID
	}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}
	if filter.Source != nil {
		query["source"] = *filter.Source
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "priority_order", Value: 1}})

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot find tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var tickets []ticket.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("cannot decode tickets: %w", err)
	}

	return tickets, nil
}

func (r *TicketRepo) CountActive(ctx context.Context, locationID, source string) (int, error) {
	query := bson.M{
		"location_id": locationID,
		"status":      bson.M{"$in": activeStatuses},
		"promoted_at": bson.M{"$ne": nil},
	}
	if source != "" {
		query["source"] = source
	}

	count, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cannot count active tickets: %w", err)
	}
	return int(count), nil
}

func (r *TicketRepo) OldestQueued(ctx context.Context, locationID string) (*ticket.Ticket, error) {
	query := bson.M{
		"location_id": locationID,
		"status":      ticketstatus.Statuses.Placed.Code(),
		"promoted_at": nil,
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "placed_at", Value: 1}, {Key: "priority_order", Value: 1}})

	var t ticket.Ticket
	err := r.collection.FindOne(ctx, query, opts).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find oldest queued ticket: %w", err)
	}
	return &t, nil
}

func (r *TicketRepo) ListQueued(ctx context.Context, locationID string) ([]ticket.Ticket, error) {
	query := bson.M{
		"location_id": locationID,
		"status":      ticketstatus.Statuses.Placed.Code(),
		"promoted_at": nil,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "placed_at", Value: 1}, {Key: "priority_order", Value: 1}})

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list queued tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var tickets []ticket.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("cannot decode queued tickets: %w", err)
	}
	return tickets, nil
}

func (r *TicketRepo) ActiveShortcodes(ctx context.Context, locationID string) ([]string, error) {
	query := bson.M{
		"location_id": locationID,
		"status":      bson.M{"$in": activeStatuses},
		"shortcode":   bson.M{"$nin": bson.A{nil, ""}},
	}

	values, err := r.collection.Distinct(ctx, "shortcode", query)
	if err != nil {
		return nil, fmt.Errorf("cannot list active shortcodes: %w", err)
	}

	codes := make([]string, 0, len(values))
	for _, v := range values {
		if code, ok := v.(string); ok && code != "" {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// ClaimPromotion is the atomic "claim if still unpromoted" write backing the
// admission decision.
func (r *TicketRepo) ClaimPromotion(ctx context.Context, id ticket.TicketID, shortcode string, at time.Time) (*ticket.Ticket, error) {
	filter := bson.M{
		"_id":         id,
		"promoted_at": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"promoted_at": at,
			"shortcode":   shortcode,
			"updated_at":  at,
		},
		"$inc": bson.M{"model_version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t ticket.Ticket
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// Already promoted or gone; either way the claim failed.
			return nil, &ticket.ConflictError{ID: id}
		}
		return nil, fmt.Errorf("cannot claim promotion: %w", err)
	}
	return &t, nil
}

func (r *TicketRepo) NextPriority(ctx context.Context, locationID string) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "priority_order", Value: -1}}).
		SetProjection(bson.M{"priority_order": 1})

	var row struct {
		PriorityOrder int `bson:"priority_order"`
	}
	err := r.collection.FindOne(ctx, bson.M{"location_id": locationID}, opts).Decode(&row)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 1, nil
		}
		return 0, fmt.Errorf("cannot compute next priority: %w", err)
	}
	return row.PriorityOrder + 1, nil
}

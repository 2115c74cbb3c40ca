// Package storage implements the story store over Mongo or Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/progscrape/progscrape/internal/domain"
	"github.com/progscrape/progscrape/internal/ports"
)

const storiesCollection = "stories"

// cosmosThrottled is the RequestRateTooLarge code emitted by
// Cosmos-compatible deployments.
const cosmosThrottled = 16500

type mongoScrape struct {
	Source      string   `bson:"source"`
	Subcategory string   `bson:"subcategory,omitempty"`
	ExternalID  string   `bson:"external_id"`
	URL         string   `bson:"url"`
	Title       string   `bson:"title"`
	Rank        int      `bson:"rank"`
	Tags        []string `bson:"tags,omitempty"`
}

type mongoStory struct {
	ID            string        `bson:"_id"`
	CanonicalURL  string        `bson:"canonical_url"`
	CreatedAt     time.Time     `bson:"created_at"`
	Rev           int64         `bson:"rev"`
	Title         string        `bson:"title"`
	Tags          []string      `bson:"tags"`
	SearchTokens  []string      `bson:"search_tokens"`
	SchemaVersion int           `bson:"schema_version"`
	Scrapes       []mongoScrape `bson:"scrapes"`
}

// MongoStore persists stories in a Mongo collection.
type MongoStore struct {
	col    *mongo.Collection
	logger *slog.Logger
}

var _ ports.StoryStore = (*MongoStore)(nil)

// NewMongoStore wires the collection and ensures the indexes the query
// shapes rely on.
func NewMongoStore(ctx context.Context, db *mongo.Database, logger *slog.Logger) (*MongoStore, error) {
	store := &MongoStore{col: db.Collection(storiesCollection), logger: logger}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "canonical_url", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "search_tokens", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := store.col.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Warn("failed to ensure story indexes", "error", err)
	}
	return store, nil
}

func (s *MongoStore) FindByURL(ctx context.Context, canonicalURL string, since time.Time) (*domain.Story, error) {
	filter := bson.M{
		"canonical_url": canonicalURL,
		"created_at":    bson.M{"$gte": since},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var doc mongoStory
	err := s.col.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, s.mapError("find story", err)
	}
	return fromMongo(doc), nil
}

// Save performs the conditional write: inserts for unpersisted stories
// (the identity guards against concurrent creates) and a
// revision-filtered replace for updates.
func (s *MongoStore) Save(ctx context.Context, story *domain.Story) error {
	doc := toMongo(story)

	if story.Rev == 0 {
		doc.Rev = 1
		if _, err := s.col.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ports.ErrConflict
			}
			return s.mapError("insert story", err)
		}
		story.Rev = 1
		return nil
	}

	doc.Rev = story.Rev + 1
	filter := bson.M{"_id": doc.ID, "rev": story.Rev}
	res, err := s.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return s.mapError("replace story", err)
	}
	if res.MatchedCount == 0 {
		return ports.ErrConflict
	}
	story.Rev = doc.Rev
	return nil
}

func (s *MongoStore) Recent(ctx context.Context, limit int) ([]*domain.Story, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoStore) Search(ctx context.Context, tokens []string, limit int) ([]*domain.Story, error) {
	filter := bson.M{"search_tokens": bson.M{"$all": tokens}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Story, error) {
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, s.mapError("query stories", err)
	}
	defer cursor.Close(ctx)

	var out []*domain.Story
	for cursor.Next(ctx) {
		var doc mongoStory
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode story: %w", err)
		}
		out = append(out, fromMongo(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, s.mapError("iterate stories", err)
	}
	return out, nil
}

func (s *MongoStore) mapError(op string, err error) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == cosmosThrottled {
		return fmt.Errorf("%s: %w", op, ports.ErrQuotaExceeded)
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == cosmosThrottled {
				return fmt.Errorf("%s: %w", op, ports.ErrQuotaExceeded)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toMongo(story *domain.Story) mongoStory {
	scrapes := make([]mongoScrape, 0, len(story.Scrapes))
	for _, scrape := range story.Scrapes {
		scrapes = append(scrapes, mongoScrape{
			Source:      string(scrape.Source),
			Subcategory: scrape.Subcategory,
			ExternalID:  scrape.ExternalID,
			URL:         scrape.URL,
			Title:       scrape.Title,
			Rank:        scrape.Rank,
			Tags:        scrape.Tags,
		})
	}
	return mongoStory{
		ID:            storyID(story.CanonicalURL, story.CreatedAt),
		CanonicalURL:  story.CanonicalURL,
		CreatedAt:     story.CreatedAt,
		Rev:           story.Rev,
		Title:         story.Title,
		Tags:          story.Tags,
		SearchTokens:  story.SearchTokens,
		SchemaVersion: story.SchemaVersion,
		Scrapes:       scrapes,
	}
}

func fromMongo(doc mongoStory) *domain.Story {
	scrapes := make([]domain.ScrapedItem, 0, len(doc.Scrapes))
	for _, scrape := range doc.Scrapes {
		scrapes = append(scrapes, domain.ScrapedItem{
			Source:      domain.Source(scrape.Source),
			Subcategory: scrape.Subcategory,
			ExternalID:  scrape.ExternalID,
			URL:         scrape.URL,
			Title:       scrape.Title,
			Rank:        scrape.Rank,
			Tags:        scrape.Tags,
		})
	}
	return &domain.Story{
		CanonicalURL:  doc.CanonicalURL,
		CreatedAt:     doc.CreatedAt,
		Rev:           doc.Rev,
		Title:         doc.Title,
		Tags:          doc.Tags,
		SearchTokens:  doc.SearchTokens,
		SchemaVersion: doc.SchemaVersion,
		Scrapes:       scrapes,
	}
}

package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"news_spider/internal/config"
	"news_spider/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectTimeout = 10 * time.Second
	queryTimeout   = 5 * time.Second
	statsTimeout   = 30 * time.Second
)

// MongoDB owns the client shared by every source. The driver pools
// connections, so one value is safe to use from all workers.
type MongoDB struct {
	client        *mongo.Client
	database      *mongo.Database
	spiderState   *mongo.Collection
	spiderHistory *mongo.Collection

	mu       sync.Mutex
	articles map[string]*ArticleCollection
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	return newMongoDB(client, cfg), nil
}

func newMongoDB(client *mongo.Client, cfg config.DBConfig) *MongoDB {
	database := client.Database(cfg.Database)
	return &MongoDB{
		client:        client,
		database:      database,
		spiderState:   database.Collection(cfg.Collections.SpiderState),
		spiderHistory: database.Collection(cfg.Collections.SpiderHistory),
		articles:      make(map[string]*ArticleCollection),
	}
}

func (d *MongoDB) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Articles returns the handle for one source collection.
func (d *MongoDB) Articles(name string) *ArticleCollection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.articles[name]; ok {
		return c
	}
	c := &ArticleCollection{name: name, coll: d.database.Collection(name)}
	d.articles[name] = c
	return c
}

// EnsureIndexes creates the unique url index on every collection named, plus
// the lookup indexes on the state collection.
func (d *MongoDB) EnsureIndexes(ctx context.Context, collections ...string) error {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	for _, name := range collections {
		if err := d.Articles(name).createIndexes(ctx); err != nil {
			return fmt.Errorf("indexes on %s: %w", name, err)
		}
	}

	_, err := d.spiderState.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("indexes on spider state: %w", err)
	}
	return nil
}

// ArticleCollection is the document store for one source.
type ArticleCollection struct {
	name string
	coll *mongo.Collection
}

func (a *ArticleCollection) Name() string {
	return a.name
}

func (a *ArticleCollection) createIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	})
	return err
}

// Exists reports whether an article with this url is already stored.
func (a *ArticleCollection) Exists(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := a.coll.FindOne(ctx, bson.M{"url": url}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert writes the article keyed by url. created_at is only written on
// insert, so repeating the same write leaves the document unchanged.
func (a *ArticleCollection) Upsert(ctx context.Context, article *models.Article) error {
	if article.URL == "" {
		return errors.New("article without url")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{"url": article.URL}
	update := bson.M{
		"$set": bson.M{
			"title":        article.Title,
			"author":       article.Author,
			"image":        article.Image,
			"time":         article.Time,
			"description":  article.Description,
			"category":     article.Category,
			"source":       article.Source,
			"content_hash": article.ContentHash,
		},
		"$setOnInsert": bson.M{"created_at": article.CreatedAt},
	}
	opts := options.Update().SetUpsert(true)

	_, err := a.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// two upserts raced on the unique index; the loser becomes a plain update
		_, err = a.coll.UpdateOne(ctx, filter, update)
	}
	return err
}

// Get returns the stored article or nil.
func (a *ArticleCollection) Get(ctx context.Context, url string) (*models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var article models.Article
	err := a.coll.FindOne(ctx, bson.M{"url": url}).Decode(&article)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func (a *ArticleCollection) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()
	return a.coll.CountDocuments(ctx, bson.M{})
}

type CollectionStats struct {
	TotalDocuments int64      `bson:"total_documents"`
	AvgBodyLength  float64    `bson:"avg_body_length"`
	LatestArticle  *time.Time `bson:"latest_article"`
	LatestCreated  *time.Time `bson:"latest_created"`
}

// Stats aggregates document count, average body length and freshness.
func (a *ArticleCollection) Stats(ctx context.Context) (*CollectionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_documents", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_body_length", Value: bson.D{{Key: "$avg", Value: bson.D{{Key: "$strLenCP", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$description.details", ""}}}}}}}},
			{Key: "latest_article", Value: bson.D{{Key: "$max", Value: "$time"}}},
			{Key: "latest_created", Value: bson.D{{Key: "$max", Value: "$created_at"}}},
		}}},
	}

	cursor, err := a.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []CollectionStats
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &CollectionStats{}, nil
	}
	return &results[0], nil
}

// RecordRun folds one source outcome into its cumulative state document.
func (d *MongoDB) RecordRun(ctx context.Context, run models.SourceRun) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set := bson.M{"last_run": run.FinishedAt}
	inc := bson.M{"total_runs": 1}
	update := bson.M{}

	if run.Status == models.StatusSuccess {
		inc["successful_runs"] = 1
		inc["total_articles"] = run.ArticlesSaved
		set["last_success"] = run.FinishedAt
		set["last_articles_count"] = run.ArticlesSaved
		update["$unset"] = bson.M{"last_error": "", "last_error_time": ""}
	} else {
		inc["failed_runs"] = 1
		set["last_error"] = run.Error
		set["last_error_time"] = run.FinishedAt
	}
	update["$set"] = set
	update["$inc"] = inc

	_, err := d.spiderState.UpdateOne(ctx, bson.M{"source": run.Source}, update, options.Update().SetUpsert(true))
	return err
}

func (d *MongoDB) GetSourceState(ctx context.Context, source string) (*models.SourceState, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var state models.SourceState
	err := d.spiderState.FindOne(ctx, bson.M{"source": source}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *MongoDB) SaveRunHistory(ctx context.Context, history *models.RunHistory) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := d.spiderHistory.InsertOne(ctx, history)
	return err
}

// LastRuns returns the most recent run documents, newest first.
func (d *MongoDB) LastRuns(ctx context.Context, limit int64) ([]models.RunHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}}).SetLimit(limit)
	cursor, err := d.spiderHistory.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []models.RunHistory
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

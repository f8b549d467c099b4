package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"limitpaste/internal/storage"
)

// DefaultDatabase is used when neither the caller nor the URI names one.
const DefaultDatabase = "limitpaste"

// document is the persisted layout. Field names match the collection used by
// earlier deployments so existing data stays readable.
type document struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Content        string             `bson:"content"`
	CreatedAt      time.Time          `bson:"createdAt"`
	ExpiresAt      *time.Time         `bson:"expiresAt"`
	MaxViews       *int               `bson:"maxViews"`
	ViewCount      int                `bson:"viewCount"`
	PassphraseHash string             `bson:"passphraseHash,omitempty"`
}

// Store implements storage.Store on a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Open connects to uri and uses database/collection for pastes. An empty
// database falls back to the one named in the URI path, then DefaultDatabase.
func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	database, err := databaseFor(uri, database)
	if err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongodb")
	}
	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Create inserts a paste; MongoDB assigns the ObjectID.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	paste := n.Build("")
	doc := document{
		Content:        paste.Content,
		CreatedAt:      paste.CreatedAt,
		ViewCount:      0,
		PassphraseHash: paste.PassphraseHash,
	}
	if paste.HasExpiration() {
		exp := paste.ExpiresAt
		doc.ExpiresAt = &exp
	}
	if paste.HasViewLimit() {
		limit := paste.MaxViews
		doc.MaxViews = &limit
	}
	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return nil, errors.Wrap(err, "insert paste")
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, errors.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	paste.ID = oid.Hex()
	return paste, nil
}

// Get looks a paste up by its hex ObjectID.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	oid, err := primitive.ObjectIDFromHex(pid)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	var doc document
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "find paste")
	}
	return doc.paste(), nil
}

// ConsumeView applies the accessibility predicate and the $inc in one
// findOneAndUpdate and returns the document after the update.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	oid, err := primitive.ObjectIDFromHex(pid)
	if err != nil {
		return nil, storage.ErrNotAvailable
	}
	filter := bson.M{
		"_id": oid,
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"expiresAt": nil},
				bson.M{"expiresAt": bson.M{"$gt": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"maxViews": nil},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$viewCount", "$maxViews"}}},
			}},
		},
	}
	update := bson.M{"$inc": bson.M{"viewCount": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc document
	if err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotAvailable
		}
		return nil, errors.Wrap(err, "consume view")
	}
	return doc.paste(), nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client and its pool.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func databaseFor(uri, database string) (string, error) {
	if database != "" {
		return database, nil
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", errors.Wrap(err, "parse mongodb uri")
	}
	if cs.Database != "" {
		return cs.Database, nil
	}
	return DefaultDatabase, nil
}

func (d document) paste() *storage.Paste {
	p := &storage.Paste{
		ID:             d.ID.Hex(),
		Content:        d.Content,
		CreatedAt:      d.CreatedAt.UTC(),
		ViewCount:      d.ViewCount,
		PassphraseHash: d.PassphraseHash,
	}
	if d.ExpiresAt != nil {
		p.ExpiresAt = d.ExpiresAt.UTC()
	}
	if d.MaxViews != nil {
		p.MaxViews = *d.MaxViews
	}
	return p
}

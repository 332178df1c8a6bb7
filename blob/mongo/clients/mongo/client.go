// Package mongo hosts the MongoDB client used by the blob store. Callers
// build a driver client, pass it to New, and receive a typed interface that
// exposes only the conditional record operations the store needs.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"
)

const (
	defaultCollection = "workflow_state"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "blob-mongo"
)

// ErrConflict reports a conditional write that did not apply: the key was
// taken on insert, or the stored token no longer matched on replace.
var ErrConflict = errors.New("cas conflict")

type (
	// Record is a stored blob with its CAS token.
	Record struct {
		// CAS is the token a replace must present.
		CAS string
		// Data is the blob payload.
		Data []byte
	}

	// Client exposes Mongo-backed conditional record operations.
	Client interface {
		health.Pinger

		// Insert creates the record at key. Fails with ErrConflict when the
		// key is taken.
		Insert(ctx context.Context, key, cas string, data []byte) error
		// Replace overwrites the record at key when the stored token equals
		// oldCAS. Fails with ErrConflict otherwise.
		Replace(ctx context.Context, key, oldCAS, newCAS string, data []byte) error
		// Fetch returns the record at key, or (nil, nil) when absent.
		Fetch(ctx context.Context, key string) (*Record, error)
	}

	// Options configures the Mongo blob client.
	Options struct {
		// Client is the driver connection. Required.
		Client *mongodriver.Client
		// Database holds the state collection. Required.
		Database string
		// Collection stores one document per workflow. Defaults to
		// "workflow_state".
		Collection string
		// Timeout bounds individual operations. Zero uses a default.
		Timeout time.Duration
	}
)

type client struct {
	mongo   *mongodriver.Client
	state   collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	coll := opts.Client.Database(opts.Database).Collection(name)
	return newClientWithCollection(opts.Client, mongoCollection{coll: coll}, opts.Timeout)
}

func newClientWithCollection(mongoClient *mongodriver.Client, state collection, timeout time.Duration) (*client, error) {
	if state == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, state: state, timeout: timeout}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Insert relies on the _id unique index: a duplicate key error means the
// record already exists.
func (c *client) Insert(ctx context.Context, key, cas string, data []byte) error {
	if key == "" {
		return errors.New("key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := stateDocument{Key: key, CAS: cas, Data: data, UpdatedAt: time.Now().UTC()}
	if err := c.state.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Replace filters on both key and the expected token so the check and the
// write are one atomic document update. A zero match count means the token
// was stale or the record is gone.
func (c *client) Replace(ctx context.Context, key, oldCAS, newCAS string, data []byte) error {
	if key == "" {
		return errors.New("key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": key, "cas": oldCAS}
	update := bson.M{"$set": bson.M{
		"cas":        newCAS,
		"data":       data,
		"updated_at": time.Now().UTC(),
	}}
	matched, err := c.state.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrConflict
	}
	return nil
}

func (c *client) Fetch(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc stateDocument
	if err := c.state.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &Record{CAS: doc.CAS, Data: doc.Data}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type stateDocument struct {
	Key       string    `bson:"_id"`
	CAS       string    `bson:"cas"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type collection interface {
	InsertOne(ctx context.Context, document any) error
	UpdateOne(ctx context.Context, filter, update any) (matched int64, err error)
	FindOne(ctx context.Context, filter any) singleResult
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) error {
	_, err := c.coll.InsertOne(ctx, document)
	return err
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any) (int64, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter)}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

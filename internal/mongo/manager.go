// Package mongo reads and writes frames from and to MongoDB.
package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/frame"
	"github.com/pspoerri/eovpipes/internal/pipe"
)

var (
	// ErrEmptyFilter is returned by Delete when the filter would match every document.
	ErrEmptyFilter = errors.New("empty delete filter")
	// ErrNoDocuments is returned by Median when nothing matches the filter.
	ErrNoDocuments = errors.New("no documents")
)

// Manager manages calls and queries of one MongoDB database. The client is
// created on first use. Safe for concurrent use.
type Manager struct {
	pipe.Base

	cfg config.MongoConfig

	mu     sync.Mutex
	client *mongo.Client
}

var _ pipe.Pipe = (*Manager)(nil)

// NewManager returns a Manager for cfg. No connection is made yet.
func NewManager(cfg config.MongoConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		Base: pipe.NewBase("mongo_manager", logger),
		cfg:  cfg,
	}
}

// Addr returns host:port of the server.
func (m *Manager) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Connect creates the client if needed and verifies it with a ping, so a
// wrong address fails here and not on the first query.
func (m *Manager) Connect(ctx context.Context) (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client.Database(m.cfg.DB), nil
	}

	opts := options.Client().ApplyURI(m.cfg.URI())
	if m.cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(m.cfg.ServerSelectionTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		m.Logger.Error().Err(err).Str("addr", m.Addr()).Msg("MongoDB connection failed")
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		m.Logger.Error().Err(err).Str("addr", m.Addr()).Msg("MongoDB connection failed")
		return nil, fmt.Errorf("ping: %w", err)
	}

	m.Logger.Info().Str("addr", m.Addr()).Msg("MongoClient connected")
	m.client = client
	return client.Database(m.cfg.DB), nil
}

// Close disconnects the client. The Manager reconnects on next use.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

// Insert loads the rows of f into collection, one document per row with the
// frame's columns as fields. With drop the collection is dropped first, which
// makes it a full replace.
func (m *Manager) Insert(ctx context.Context, f *frame.Frame, collection string, drop bool) (err error) {
	defer m.Time("insert")(&err)

	docs, err := frameToDocs(f)
	if err != nil {
		return err
	}
	return m.InsertDocs(ctx, collection, docs, drop)
}

// InsertDocs inserts arbitrary documents (bson.D, bson.M, structs).
func (m *Manager) InsertDocs(ctx context.Context, collection string, docs []any, drop bool) error {
	db, err := m.Connect(ctx)
	if err != nil {
		return err
	}

	if drop {
		if err := db.Collection(collection).Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", collection, err)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	res, err := db.Collection(collection).InsertMany(ctx, docs)
	if err != nil {
		m.Logger.Error().Err(err).Str("collection", collection).Msg("MongoDB insert failed")
		return fmt.Errorf("insert into %s: %w", collection, err)
	}

	m.Logger.Info().Str("collection", collection).Int("docs", len(res.InsertedIDs)).Bool("dropped", drop).Msg("Documents inserted")
	return nil
}

// ReadOptions narrows a Read. The zero value reads every document.
type ReadOptions struct {
	Filter bson.D
	// Limit of 0 means no limit.
	Limit int64
	Sort  bson.D
	// KeepID keeps the _id field, dropped by default.
	KeepID bool
}

// Read returns the matching documents of collection as a frame. Columns are
// the union of the document fields in first-seen order; missing fields are nil.
func (m *Manager) Read(ctx context.Context, collection string, ro ReadOptions) (f *frame.Frame, err error) {
	defer m.Time("read")(&err)

	db, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	cur, err := db.Collection(collection).Find(ctx, filterOrAll(ro.Filter), findOptions(ro))
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}

	f = docsToFrame(docs, ro.KeepID)
	m.Logger.Info().Str("collection", collection).Int("docs", f.Len()).Msg("Documents returned")
	return f, nil
}

// ReadTable reads the whole collection. It lets a Manager stand in for a
// table source.
func (m *Manager) ReadTable(ctx context.Context, collection string) (*frame.Frame, error) {
	return m.Read(ctx, collection, ReadOptions{})
}

// Delete removes the documents matching filter.
func (m *Manager) Delete(ctx context.Context, collection string, filter bson.D) (n int64, err error) {
	defer m.Time("delete")(&err)

	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	db, err := m.Connect(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}

	m.Logger.Info().Str("collection", collection).Int64("docs", res.DeletedCount).Msg("Documents deleted")
	return res.DeletedCount, nil
}

// DropCollection drops collection. Dropping a missing collection is not an error.
func (m *Manager) DropCollection(ctx context.Context, collection string) error {
	db, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	if err := db.Collection(collection).Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", collection, err)
	}
	m.Logger.Info().Str("collection", collection).Msg("Collection dropped")
	return nil
}

// Median returns the median of field over the documents matching filter: the
// element at position count/2 of the ascending order, the upper one for an
// even count.
func (m *Manager) Median(ctx context.Context, collection string, filter bson.D, field string) (float64, error) {
	db, err := m.Connect(ctx)
	if err != nil {
		return 0, err
	}
	coll := db.Collection(collection)

	n, err := coll.CountDocuments(ctx, filterOrAll(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	if n == 0 {
		return 0, ErrNoDocuments
	}

	var doc bson.M
	err = coll.FindOne(ctx, filterOrAll(filter), medianOptions(field, n)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNoDocuments
	}
	if err != nil {
		return 0, fmt.Errorf("median of %s.%s: %w", collection, field, err)
	}
	v, ok := doc[field]
	if !ok {
		return 0, fmt.Errorf("median of %s.%s: %w", collection, field, frame.ErrNoColumn)
	}
	return medianValue(v)
}

// PutBlob stores data in the GridFS bucket and returns its id.
func (m *Manager) PutBlob(ctx context.Context, bucket, name string, data []byte) (primitive.ObjectID, error) {
	b, err := m.bucket(ctx, bucket)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id, err := b.UploadFromStream(name, bytes.NewReader(data))
	if err != nil {
		m.Logger.Error().Err(err).Str("bucket", bucket).Msg("MongoDB blob insert failed")
		return primitive.NilObjectID, fmt.Errorf("upload %s to %s: %w", name, bucket, err)
	}
	m.Logger.Info().Str("bucket", bucket).Str("id", id.Hex()).Int("bytes", len(data)).Msg("Blob stored")
	return id, nil
}

// ReadBlob returns the content of a GridFS file.
func (m *Manager) ReadBlob(ctx context.Context, bucket string, id primitive.ObjectID) ([]byte, error) {
	b, err := m.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := b.DownloadToStream(id, &buf); err != nil {
		return nil, fmt.Errorf("download %s from %s: %w", id.Hex(), bucket, err)
	}
	m.Logger.Info().Str("bucket", bucket).Str("id", id.Hex()).Int("bytes", buf.Len()).Msg("Blob read")
	return buf.Bytes(), nil
}

// DeleteBlob removes a GridFS file with its chunks.
func (m *Manager) DeleteBlob(ctx context.Context, bucket string, id primitive.ObjectID) error {
	b, err := m.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	if err := b.Delete(id); err != nil {
		return fmt.Errorf("delete %s from %s: %w", id.Hex(), bucket, err)
	}
	m.Logger.Info().Str("bucket", bucket).Str("id", id.Hex()).Msg("Blob deleted")
	return nil
}

func (m *Manager) bucket(ctx context.Context, name string) (*gridfs.Bucket, error) {
	db, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return gridfs.NewBucket(db, options.GridFSBucket().SetName(name))
}

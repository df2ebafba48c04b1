package etl

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
	"github.com/BartekS5/xfer/pkg/utils"
)

// MongoSource streams documents of a collection matching an extended JSON
// filter. Field order follows each document; nested documents and arrays are
// flattened to JSON text.
type MongoSource struct {
	client *mongo.Client
	coll   *mongo.Collection
	filter bson.D
}

// NewMongoSource takes ownership of client. ns is "<database>.<collection>".
func NewMongoSource(client *mongo.Client, ns, filter string) (*MongoSource, error) {
	dbName, collName, err := database.SplitNamespace(ns)
	if err != nil {
		return nil, err
	}
	f := bson.D{}
	if filter != "" {
		if err := bson.UnmarshalExtJSON([]byte(filter), false, &f); err != nil {
			return nil, fmt.Errorf("mongo filter: %w", err)
		}
	}
	return &MongoSource{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
		filter: f,
	}, nil
}

func (s *MongoSource) Open(ctx context.Context) (Cursor, error) {
	cur, err := s.coll.Find(ctx, s.filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, queryErr("mongo find", err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (s *MongoSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoCursor struct {
	cur  *mongo.Cursor
	cols []string
	done bool
}

func (c *mongoCursor) Columns() []string { return append([]string(nil), c.cols...) }

func (c *mongoCursor) Fetch(ctx context.Context, size int) (models.Chunk, error) {
	if c.done {
		return nil, nil
	}
	chunk := make(models.Chunk, 0, size)
	for len(chunk) < size {
		if !c.cur.Next(ctx) {
			c.done = true
			if err := c.cur.Err(); err != nil {
				return nil, queryErr("mongo fetch", err)
			}
			break
		}
		var doc bson.D
		if err := c.cur.Decode(&doc); err != nil {
			return nil, queryErr("mongo decode", err)
		}
		rec, err := documentRecord(doc)
		if err != nil {
			return nil, queryErr("mongo decode", err)
		}
		if c.cols == nil {
			c.cols = rec.Columns()
		}
		chunk = append(chunk, rec)
	}
	return chunk, nil
}

func (c *mongoCursor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.cur.Close(ctx)
}

func documentRecord(doc bson.D) (*models.Record, error) {
	rec := models.NewRecord(nil, nil)
	for _, e := range doc {
		switch v := e.Value.(type) {
		case bson.D, bson.A:
			data, err := json.Marshal(plainValue(v))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", e.Key, err)
			}
			rec.Set(e.Key, string(data))
		default:
			rec.Set(e.Key, utils.NormalizeValue(v))
		}
	}
	return rec, nil
}

func plainValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i := range x {
			out[i] = plainValue(x[i])
		}
		return out
	default:
		return utils.NormalizeValue(v)
	}
}

// MongoWriter inserts batches into a collection. Documents are always keyed
// by column name. Preoperators are database commands in extended JSON.
type MongoWriter struct {
	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

// NewMongoWriter takes ownership of client. ns is "<database>.<collection>".
func NewMongoWriter(client *mongo.Client, ns string) (*MongoWriter, error) {
	dbName, collName, err := database.SplitNamespace(ns)
	if err != nil {
		return nil, err
	}
	db := client.Database(dbName)
	return &MongoWriter{client: client, db: db, coll: db.Collection(collName)}, nil
}

// Exec runs statement as a database command, e.g.
// {"delete": "orders", "deletes": [{"q": {}, "limit": 0}]}. Named parameters
// are not supported.
func (w *MongoWriter) Exec(ctx context.Context, statement string, params map[string]any) error {
	if len(params) > 0 {
		return fmt.Errorf("mongo commands do not take parameters")
	}
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(statement), false, &cmd); err != nil {
		return fmt.Errorf("parse mongo command: %w", err)
	}
	return w.db.RunCommand(ctx, cmd).Err()
}

func (w *MongoWriter) BulkInsert(ctx context.Context, b Batch) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, len(b.Rows))
	for i, row := range b.Rows {
		doc := make(bson.D, 0, len(row))
		for j, v := range row {
			if es, ok := v.(models.EncodedString); ok {
				v = es.Text
			}
			doc = append(doc, bson.E{Key: b.Columns[j], Value: v})
		}
		docs[i] = doc
	}
	res, err := w.coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, err
	}
	logger.Debugf("mongo InsertMany: %d documents into %s", len(res.InsertedIDs), w.coll.Name())
	return int64(len(res.InsertedIDs)), nil
}

func (w *MongoWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.client.Disconnect(ctx)
}

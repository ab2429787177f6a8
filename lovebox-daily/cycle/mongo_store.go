package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lovebox_automation/lovebox-daily/logger"
)

// DefaultMongoDocumentID is the _id of the single document holding all entries.
const DefaultMongoDocumentID = "shuffle_cycles"

// MongoStore keeps the document as one MongoDB document. Entries are stored
// as an array so selection keys never have to be valid field names.
type MongoStore struct {
	coll  *mongo.Collection
	docID string
	log   zerolog.Logger
}

type mongoEntry struct {
	Key       string   `bson:"key"`
	Signature string   `bson:"signature"`
	Order     []string `bson:"order"`
	Index     int      `bson:"index"`
}

type mongoDocument struct {
	ID        string       `bson:"_id"`
	Entries   []mongoEntry `bson:"entries"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

// rawMongoEntry mirrors mongoEntry with presence tracking.
type rawMongoEntry struct {
	Key       *string   `bson:"key"`
	Signature *string   `bson:"signature"`
	Order     *[]string `bson:"order"`
	Index     *int      `bson:"index"`
}

// NewMongoStore creates a store over coll using docID as the document _id.
func NewMongoStore(coll *mongo.Collection, docID string, log zerolog.Logger) *MongoStore {
	if docID == "" {
		docID = DefaultMongoDocumentID
	}
	return &MongoStore{coll: coll, docID: docID, log: log}
}

// ConnectMongo dials uri, verifies the connection and returns a store over
// database.collection. The returned func disconnects the client.
func ConnectMongo(ctx context.Context, uri, database, collection, docID string, log zerolog.Logger) (*MongoStore, func(context.Context) error, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("cycle: connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("cycle: ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	return NewMongoStore(coll, docID, log), client.Disconnect, nil
}

func (s *MongoStore) Load(ctx context.Context) (Document, error) {
	var raw bson.Raw
	err := s.coll.FindOne(ctx, bson.M{"_id": s.docID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cycle: load document %s: %w", s.docID, err)
	}

	doc, malformed := decodeMongoDocument(raw)
	for _, key := range malformed {
		s.log.Warn().Str(logger.FieldKey, key).Str("document", s.docID).Msg("discarding malformed cycle entry")
	}
	return doc, nil
}

func (s *MongoStore) Save(ctx context.Context, doc Document) error {
	_, err := s.coll.ReplaceOne(
		ctx,
		bson.M{"_id": s.docID},
		encodeMongoDocument(s.docID, doc, time.Now().UTC()),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("cycle: save document %s: %w", s.docID, err)
	}
	return nil
}

func encodeMongoDocument(id string, doc Document, now time.Time) mongoDocument {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]mongoEntry, 0, len(keys))
	for _, key := range keys {
		entry := doc[key]
		entries = append(entries, mongoEntry{
			Key:       key,
			Signature: entry.Signature,
			Order:     entry.Order,
			Index:     entry.Index,
		})
	}
	return mongoDocument{ID: id, Entries: entries, UpdatedAt: now}
}

// decodeMongoDocument reads the entries array element by element. A missing
// or non-array entries field decodes as an empty document.
func decodeMongoDocument(raw bson.Raw) (doc Document, malformed []string) {
	doc = Document{}
	value, err := raw.LookupErr("entries")
	if err != nil {
		return doc, nil
	}
	arr, ok := value.ArrayOK()
	if !ok {
		return doc, nil
	}
	values, err := arr.Values()
	if err != nil {
		return doc, nil
	}

	for i, v := range values {
		label := fmt.Sprintf("entries[%d]", i)
		elem, ok := v.DocumentOK()
		if !ok {
			malformed = append(malformed, label)
			continue
		}
		if key, ok := elem.Lookup("key").StringValueOK(); ok {
			label = key
		}
		var re rawMongoEntry
		if err := bson.Unmarshal(elem, &re); err != nil {
			malformed = append(malformed, label)
			continue
		}
		if re.Key == nil {
			malformed = append(malformed, label)
			continue
		}
		entry, ok := rawEntry{Signature: re.Signature, Order: re.Order, Index: re.Index}.entry()
		if !ok {
			malformed = append(malformed, label)
			continue
		}
		doc[*re.Key] = entry
	}
	sort.Strings(malformed)
	return doc, malformed
}

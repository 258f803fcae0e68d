// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/store"
)

// Databases used, one collection per network in each of them.
const (
	backendsDB = "backends"
	settingsDB = "settings"
	viewsDB    = "views"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// AddBackend saves a custom backend of network net unless a backend with the same id exists.
func (m *Mongo) AddBackend(net string, b config.BackendConfig) error {
	col := m.c.Database(backendsDB).Collection(net)

	// try and find it
	err := col.FindOne(context.Background(), bson.M{"id": b.ID}).Err()
	if err == nil {
		return fmt.Errorf("%w: %s", store.ErrBackendExists, b.ID)
	}

	if !errors.Is(err, mgo.ErrNoDocuments) {
		return fmt.Errorf("could not look up backend in db: %w", err)
	}

	b.Custom = true
	if _, err = col.InsertOne(context.Background(), b); err != nil {
		return fmt.Errorf("could not insert backend in db: %w", err)
	}

	return nil
}

// RemoveBackend deletes a custom backend from the database.
func (m *Mongo) RemoveBackend(net, id string) error {
	res, err := m.c.Database(backendsDB).Collection(net).DeleteOne(context.Background(), bson.M{"id": id})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrBackendNotFound
	}

	return err
}

// GetBackends returns the custom backends saved for network net, in insertion order.
func (m *Mongo) GetBackends(net string) ([]config.BackendConfig, error) {
	cur, err := m.c.Database(backendsDB).Collection(net).Find(context.Background(), bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}

	bs := []config.BackendConfig{}
	if err = cur.All(context.Background(), &bs); err != nil {
		return nil, fmt.Errorf("error decoding backends: %w", err)
	}

	return bs, nil
}

// LoadSettings loads from db the balancer mode of network net.
func (m *Mongo) LoadSettings(net string) (s store.Settings, err error) {
	r := m.c.Database(settingsDB).Collection(net).FindOne(context.Background(), bson.D{})
	if err = r.Decode(&s); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveSettings saves to db the balancer mode of network net.
func (m *Mongo) SaveSettings(net string, s store.Settings) (err error) {
	_, err = m.c.Database(settingsDB).Collection(net).UpdateOne(context.Background(),
		bson.D{}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "manual", Value: s.Manual},
					{Key: "pinned", Value: s.Pinned},
				},
			},
		},
		options.Update().SetUpsert(true))

	return
}

// LoadView loads from db the observer view of network net.
func (m *Mongo) LoadView(net string) (v store.NetView, err error) {
	r := m.c.Database(viewsDB).Collection(net).FindOne(context.Background(), bson.D{})
	if err = r.Decode(&v); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveView saves to db the observer view of network net.
func (m *Mongo) SaveView(net string, v store.NetView) (err error) {
	_, err = m.c.Database(viewsDB).Collection(net).ReplaceOne(context.Background(), bson.D{}, v,
		options.Replace().SetUpsert(true))

	return
}

// DeleteNetwork deletes every document of network net.
func (m *Mongo) DeleteNetwork(net string) error {
	for _, db := range []string{backendsDB, settingsDB, viewsDB} {
		if err := m.c.Database(db).Collection(net).Drop(context.Background()); err != nil {
			return fmt.Errorf("cannot drop %s.%s: %w", db, net, err)
		}
	}

	return nil
}

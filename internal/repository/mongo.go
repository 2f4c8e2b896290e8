package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/connectify/internal/domain"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 3 * time.Second
)

type MongoRepository struct {
	db       *mongo.Database
	msgColl  *mongo.Collection
	userColl *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		db:       db,
		msgColl:  db.Collection("messages"),
		userColl: db.Collection("users"),
	}
}

// EnsureIndexes creates the conversation and unread indexes. Existing indexes are left alone.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "seen", Value: 1}}},
	})
	if err != nil {
		return domain.Unavailable("create indexes", err)
	}
	return nil
}

func between(a, b string) bson.M {
	return bson.M{"$or": []bson.M{
		{"sender": a, "recipient": b},
		{"sender": b, "recipient": a},
	}}
}

func wrap(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return domain.Unavailable(op, err)
}

func (r *MongoRepository) Create(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if m.DeletedFor == nil {
		m.DeletedFor = []string{}
	}
	if _, err := r.msgColl.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Invalid("duplicate message id")
		}
		return wrap("insert message", err)
	}
	return nil
}

// CreateMany inserts the batch in order. Mongo does not roll back an interrupted InsertMany
// outside a transaction, so whatever landed before the failure is removed again.
func (r *MongoRepository) CreateMany(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		if m.DeletedFor == nil {
			m.DeletedFor = []string{}
		}
		docs[i] = m
		ids[i] = m.ID
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.msgColl.InsertMany(wctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		// the duplicate may be a pre-existing record, so only undo ids inserted before it
		r.undo(ids[:insertedBefore(err)])
		return domain.Invalid("duplicate message id")
	}
	r.undo(ids)
	return wrap("insert messages", err)
}

// insertedBefore reports how many documents of an ordered InsertMany were written before the
// first write error.
func insertedBefore(err error) int {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return bwe.WriteErrors[0].Index
	}
	return 0
}

func (r *MongoRepository) undo(ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, _ = r.msgColl.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrap("find message", err)
	}
	return normalize(&m), nil
}

func (r *MongoRepository) Conversation(ctx context.Context, a, b string) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.msgColl.Find(ctx, between(a, b), opts)
	if err != nil {
		return nil, wrap("find conversation", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, wrap("decode message", err)
		}
		out = append(out, normalize(&m))
	}
	if err := cur.Err(); err != nil {
		return nil, wrap("iterate conversation", err)
	}
	return out, nil
}

func ownedSince(id, sender string, notBefore time.Time) bson.M {
	return bson.M{"_id": id, "sender": sender, "created_at": bson.M{"$gte": notBefore}}
}

func (r *MongoRepository) UpdateText(ctx context.Context, id, sender, text string, editedAt, notBefore time.Time) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	res := r.msgColl.FindOneAndUpdate(
		ctx,
		ownedSince(id, sender, notBefore),
		bson.M{"$set": bson.M{"text": text, "edited_at": editedAt}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m domain.Message
	if err := res.Decode(&m); err != nil {
		return nil, wrap("edit message", err)
	}
	return normalize(&m), nil
}

func (r *MongoRepository) HardDelete(ctx context.Context, id, sender string, notBefore time.Time) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var m domain.Message
	if err := r.msgColl.FindOneAndDelete(ctx, ownedSince(id, sender, notBefore)).Decode(&m); err != nil {
		return nil, wrap("delete message", err)
	}
	return normalize(&m), nil
}

func (r *MongoRepository) SoftDelete(ctx context.Context, id, viewer string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	res := r.msgColl.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deleted_for": viewer}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m domain.Message
	if err := res.Decode(&m); err != nil {
		return nil, wrap("soft delete message", err)
	}
	return normalize(&m), nil
}

func (r *MongoRepository) ClearFor(ctx context.Context, viewer, peer string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	filter := between(viewer, peer)
	filter["deleted_for"] = bson.M{"$ne": viewer}
	res, err := r.msgColl.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"deleted_for": viewer}})
	if err != nil {
		return 0, wrap("clear chat", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) MarkSeen(ctx context.Context, viewer, peer string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	res, err := r.msgColl.UpdateMany(ctx,
		bson.M{"sender": peer, "recipient": viewer, "seen": false},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return 0, wrap("mark seen", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) UnreadCount(ctx context.Context, viewer, peer string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	n, err := r.msgColl.CountDocuments(ctx, bson.M{
		"sender":      peer,
		"recipient":   viewer,
		"seen":        false,
		"deleted_for": bson.M{"$ne": viewer},
	})
	if err != nil {
		return 0, wrap("count unread", err)
	}
	return n, nil
}

func (r *MongoRepository) LastMessageTime(ctx context.Context, viewer, peer string) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	filter := between(viewer, peer)
	filter["deleted_for"] = bson.M{"$ne": viewer}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"created_at": 1})
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, filter, opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrap("last message", err)
	}
	t := m.CreatedAt
	return &t, nil
}

func (r *MongoRepository) RecordSocket(ctx context.Context, identity, socketID string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.userColl.UpdateByID(ctx, identity,
		bson.M{"$set": bson.M{"socket_id": socketID}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrap("record socket", err)
	}
	return nil
}

func (r *MongoRepository) RecordStatus(ctx context.Context, ev domain.PresenceEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	update := bson.M{"$set": bson.M{"is_online": true}}
	if !ev.Online {
		update = bson.M{
			"$set":   bson.M{"is_online": false, "last_seen": ev.LastSeen},
			"$unset": bson.M{"socket_id": ""},
		}
	}
	if _, err := r.userColl.UpdateByID(ctx, ev.Identity, update, options.Update().SetUpsert(true)); err != nil {
		return wrap("record status", err)
	}
	return nil
}

func (r *MongoRepository) User(ctx context.Context, identity string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	var u User
	if err := r.userColl.FindOne(ctx, bson.M{"_id": identity}).Decode(&u); err != nil {
		return nil, wrap("find user", err)
	}
	return &u, nil
}

func normalize(m *domain.Message) *domain.Message {
	if m.DeletedFor == nil {
		m.DeletedFor = []string{}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"presence-service/internal/models"
)

// MongoStore implements MessageStore, PresenceStore and FriendStore on the
// users and messages collections.
type MongoStore struct {
	users    *mongo.Collection
	messages *mongo.Collection
}

// NewMongoStore constructs a MongoStore on the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
	}
}

// EnsureIndexes creates the conversation index used by history fetches.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return errors.Wrap(err, "creating message index")
}

// CreateMessage stores a message with status sent and a server-assigned id and timestamp.
func (s *MongoStore) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	msg := models.Message{
		ID:              uuid.NewString(),
		From:            in.From,
		To:              in.To,
		Content:         in.Content,
		Status:          models.StatusSent,
		Timestamp:       time.Now().UTC(),
		ClientMessageID: in.ClientMessageID,
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return models.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

// ListConversation returns messages exchanged between two users, oldest first.
func (s *MongoStore) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"from": userA, "to": userB},
		{"from": userB, "to": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversation")
	}
	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, errors.Wrap(err, "decoding conversation")
	}
	return msgs, nil
}

// SetOnline updates isOnline and lastSeen on the user document.
func (s *MongoStore) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	set := bson.M{"isOnline": online}
	if lastSeen != nil {
		set["lastSeen"] = *lastSeen
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	return errors.Wrap(err, "updating presence")
}

// ListFriends resolves the friends array of the user document.
func (s *MongoStore) ListFriends(ctx context.Context, userID string) ([]models.Friend, error) {
	var doc struct {
		Friends []string `bson:"friends"`
	}
	err := s.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"friends": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []models.Friend{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading friend ids")
	}
	friends := []models.Friend{}
	if len(doc.Friends) == 0 {
		return friends, nil
	}

	opts := options.Find().
		SetProjection(bson.M{"fullName": 1, "avatar": 1, "isOnline": 1, "lastSeen": 1}).
		SetSort(bson.D{{Key: "fullName", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": doc.Friends}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "querying friends")
	}
	if err := cur.All(ctx, &friends); err != nil {
		return nil, errors.Wrap(err, "decoding friends")
	}
	return friends, nil
}

// AreFriends checks whether friendID is in userID's friends array.
func (s *MongoStore) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	count, err := s.users.CountDocuments(ctx, bson.M{"_id": userID, "friends": friendID})
	if err != nil {
		return false, errors.Wrap(err, "checking friendship")
	}
	return count > 0, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/tubeshelf/accounts/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email"`
	FullName     string             `bson:"fullName"`
	Avatar       string             `bson:"avatar"`
	CoverImage   string             `bson:"coverImage"`
	Password     string             `bson:"password"`
	RefreshToken string             `bson:"refreshToken,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d userDocument) toUser() types.User {
	return types.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		PasswordHash: d.Password,
		RefreshToken: d.RefreshToken,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepository handles persistence for users in a MongoDB collection.
type MongoUserRepository struct {
	coll *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique indexes on username and email.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("username_unique"),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
	})
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return types.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByUsernameOrEmail returns the first user matching either field.
func (r *MongoUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"username": username},
		bson.M{"email": email},
	}})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDocument{
		ID:           primitive.NewObjectID(),
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		Avatar:       user.Avatar,
		CoverImage:   user.CoverImage,
		Password:     user.PasswordHash,
		RefreshToken: user.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return types.User{}, mapMongoWriteError(err)
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) UpdateAccount(ctx context.Context, id, fullName, email string) (types.User, error) {
	return r.updateFields(ctx, id, bson.M{"fullName": fullName, "email": email})
}

func (r *MongoUserRepository) UpdateAvatar(ctx context.Context, id, url string) (types.User, error) {
	return r.updateFields(ctx, id, bson.M{"avatar": url})
}

func (r *MongoUserRepository) UpdateCoverImage(ctx context.Context, id, url string) (types.User, error) {
	return r.updateFields(ctx, id, bson.M{"coverImage": url})
}

func (r *MongoUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) (types.User, error) {
	return r.updateFields(ctx, id, bson.M{"password": passwordHash})
}

// SetRefreshToken overwrites the stored refresh token. An empty token unsets it.
func (r *MongoUserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	return r.updateOne(ctx, bson.M{"_id": oid}, refreshTokenUpdate(token))
}

// SwapRefreshToken replaces the stored refresh token only while it still
// equals current. A lost race or a stale token yields ErrNotFound.
func (r *MongoUserRepository) SwapRefreshToken(ctx context.Context, id, current, next string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil || current == "" {
		return ErrNotFound
	}
	return r.updateOne(ctx, bson.M{"_id": oid, "refreshToken": current}, refreshTokenUpdate(next))
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) updateFields(ctx context.Context, id string, set bson.M) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return types.User{}, ErrNotFound
	}
	set["updatedAt"] = time.Now().UTC().Truncate(time.Millisecond)

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDocument
	err = r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, mapMongoWriteError(err)
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) updateOne(ctx context.Context, filter, update bson.M) error {
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func refreshTokenUpdate(token string) bson.M {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if token == "" {
		return bson.M{
			"$unset": bson.M{"refreshToken": ""},
			"$set":   bson.M{"updatedAt": now},
		}
	}
	return bson.M{"$set": bson.M{"refreshToken": token, "updatedAt": now}}
}

func mapMongoWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMapWriteError(t *testing.T) {
	dup := &pq.Error{Code: uniqueViolation}
	assert.ErrorIs(t, mapWriteError(dup), ErrDuplicate)
	assert.ErrorIs(t, mapWriteError(fmt.Errorf("insert: %w", dup)), ErrDuplicate)

	other := &pq.Error{Code: "23503"}
	assert.Equal(t, other, mapWriteError(other))
}

func TestMapMongoWriteError(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, mapMongoWriteError(dup), ErrDuplicate)

	plain := errors.New("socket closed")
	assert.Equal(t, plain, mapMongoWriteError(plain))
}

func TestRefreshTokenUpdate(t *testing.T) {
	cleared := refreshTokenUpdate("")
	assert.Contains(t, cleared, "$unset")
	assert.Equal(t, bson.M{"refreshToken": ""}, cleared["$unset"])

	set := refreshTokenUpdate("tok")
	assert.NotContains(t, set, "$unset")
	assert.Equal(t, "tok", set["$set"].(bson.M)["refreshToken"])
}

func TestUserRepository_RejectsMalformedIDs(t *testing.T) {
	repo := NewUserRepository(nil)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpdateAvatar(ctx, "42", "https://cdn/a.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.SetRefreshToken(ctx, "", "t"), ErrNotFound)
	assert.ErrorIs(t, repo.SwapRefreshToken(ctx, "x", "", "t"), ErrNotFound)

	mongoRepo := &MongoUserRepository{}
	_, err = mongoRepo.GetByID(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken("ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"))
	assert.True(t, ValidToken("ExpoPushToken[abc]"))
	assert.False(t, ValidToken(""))
	assert.False(t, ValidToken("ExponentPushToken[]"))
	assert.False(t, ValidToken("fcm:abcdef"))
}

func TestRegister(t *testing.T) {
	db, mock := redismock.NewClientMock()
	registry := NewRedisRegistry(db)

	mock.ExpectHSet(registryKey, "user_1", "ExponentPushToken[abc]").SetVal(1)

	err := registry.Register(context.Background(), "user_1", "ExponentPushToken[abc]")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Invalid(t *testing.T) {
	db, mock := redismock.NewClientMock()
	registry := NewRedisRegistry(db)

	err := registry.Register(context.Background(), "user_1", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookup(t *testing.T) {
	db, mock := redismock.NewClientMock()
	registry := NewRedisRegistry(db)

	mock.ExpectHGet(registryKey, "user_1").SetVal("ExponentPushToken[abc]")
	mock.ExpectHGet(registryKey, "user_2").RedisNil()
	mock.ExpectHGet(registryKey, "user_3").SetErr(errors.New("connection refused"))

	token, err := registry.Lookup(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[abc]", token)

	token, err = registry.Lookup(context.Background(), "user_2")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = registry.Lookup(context.Background(), "user_3")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove(t *testing.T) {
	db, mock := redismock.NewClientMock()
	registry := NewRedisRegistry(db)

	mock.ExpectHDel(registryKey, "user_1").SetVal(1)

	assert.NoError(t, registry.Remove(context.Background(), "user_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

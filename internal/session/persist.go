package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tileworks/internal/database"
	"tileworks/internal/model"

	"github.com/redis/go-redis/v9"
)

// Fixed storage keys; token and user are always written and cleared together.
const (
	keyToken = "token"
	keyUser  = "user"
)

// Snapshot is what survives a restart.
type Snapshot struct {
	Token string
	User  *model.User
}

// Persister stores one snapshot per owner.
type Persister interface {
	Load(ctx context.Context, owner string) (Snapshot, error)
	Save(ctx context.Context, owner string, snap Snapshot) error
	Clear(ctx context.Context, owner string) error
}

// SQLitePersister keeps snapshots in the local sqlite database.
type SQLitePersister struct {
	db *database.DB
}

func NewSQLitePersister(db *database.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

func (p *SQLitePersister) Load(ctx context.Context, owner string) (Snapshot, error) {
	values, err := p.db.GetValues(ctx, owner)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	return decodeSnapshot(values[keyToken], values[keyUser])
}

func (p *SQLitePersister) Save(ctx context.Context, owner string, snap Snapshot) error {
	user, err := json.Marshal(snap.User)
	if err != nil {
		return err
	}
	return p.db.SetValues(ctx, owner, map[string]string{keyToken: snap.Token, keyUser: string(user)})
}

func (p *SQLitePersister) Clear(ctx context.Context, owner string) error {
	return p.db.DeleteValues(ctx, owner, keyToken, keyUser)
}

// RedisPersister keeps snapshots in redis under <prefix>:<owner>:<key>.
type RedisPersister struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPersister(rdb *redis.Client, prefix string) *RedisPersister {
	return &RedisPersister{rdb: rdb, prefix: prefix}
}

func (p *RedisPersister) key(owner, k string) string {
	return p.prefix + ":" + owner + ":" + k
}

func (p *RedisPersister) Load(ctx context.Context, owner string) (Snapshot, error) {
	vals, err := p.rdb.MGet(ctx, p.key(owner, keyToken), p.key(owner, keyUser)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	token, _ := vals[0].(string)
	user, _ := vals[1].(string)
	return decodeSnapshot(token, user)
}

func (p *RedisPersister) Save(ctx context.Context, owner string, snap Snapshot) error {
	user, err := json.Marshal(snap.User)
	if err != nil {
		return err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(owner, keyToken), snap.Token, 0)
		pipe.Set(ctx, p.key(owner, keyUser), string(user), 0)
		return nil
	})
	return err
}

func (p *RedisPersister) Clear(ctx context.Context, owner string) error {
	return p.rdb.Del(ctx, p.key(owner, keyToken), p.key(owner, keyUser)).Err()
}

var errPartialSnapshot = errors.New("stored session is incomplete")

func decodeSnapshot(token, user string) (Snapshot, error) {
	if token == "" && user == "" {
		return Snapshot{}, nil
	}
	if token == "" || user == "" || user == "null" {
		return Snapshot{}, errPartialSnapshot
	}
	var u model.User
	if err := json.Unmarshal([]byte(user), &u); err != nil {
		return Snapshot{}, fmt.Errorf("decode stored user: %w", err)
	}
	return Snapshot{Token: token, User: &u}, nil
}

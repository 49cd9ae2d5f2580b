package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"

	"github.com/redis/go-redis/v9"
)

var _ core.GrantStore = (*RedisGrantStore)(nil)

// RedisGrantStore keeps persisted grants in Redis. Each grant is a JSON
// string key expiring with the grant; set indexes per subject, session,
// client and type support filtered queries. Index entries for grants that
// expired on their own are pruned lazily on read.
type RedisGrantStore struct {
	client *redis.Client
	prefix string
}

// NewRedisGrantStore wraps a go-redis client. The client is not closed by the store.
func NewRedisGrantStore(client *redis.Client, prefix string) *RedisGrantStore {
	if prefix == "" {
		prefix = "authcore:"
	}
	return &RedisGrantStore{client: client, prefix: prefix}
}

func (s *RedisGrantStore) grantKey(key string) string {
	return s.prefix + "grant:" + key
}

func (s *RedisGrantStore) indexKeys(g *models.PersistedGrant) []string {
	var keys []string
	if g.SubjectID != "" {
		keys = append(keys, s.prefix+"grants:sub:"+g.SubjectID)
	}
	if g.SessionID != "" {
		keys = append(keys, s.prefix+"grants:sid:"+g.SessionID)
	}
	if g.ClientID != "" {
		keys = append(keys, s.prefix+"grants:client:"+g.ClientID)
	}
	if g.Type != "" {
		keys = append(keys, s.prefix+"grants:type:"+g.Type)
	}
	return keys
}

// filterIndex picks the most selective index for a filter.
func (s *RedisGrantStore) filterIndex(f models.GrantFilter) string {
	switch {
	case f.SessionID != "":
		return s.prefix + "grants:sid:" + f.SessionID
	case f.SubjectID != "":
		return s.prefix + "grants:sub:" + f.SubjectID
	case f.ClientID != "":
		return s.prefix + "grants:client:" + f.ClientID
	default:
		return s.prefix + "grants:type:" + f.Type
	}
}

func (s *RedisGrantStore) StoreGrant(ctx context.Context, grant *models.PersistedGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}

	var ttl time.Duration
	if grant.Expiration != nil {
		ttl = time.Until(*grant.Expiration)
		if ttl <= 0 {
			return nil
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.grantKey(grant.Key), data, ttl)
		for _, idx := range s.indexKeys(grant) {
			pipe.SAdd(ctx, idx, grant.Key)
		}
		return nil
	})
	return err
}

func (s *RedisGrantStore) GetGrant(ctx context.Context, key string) (*models.PersistedGrant, error) {
	data, err := s.client.Get(ctx, s.grantKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	var grant models.PersistedGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("decode grant %s: %w", key, err)
	}
	return &grant, nil
}

func (s *RedisGrantStore) GetAllGrants(
	ctx context.Context,
	filter models.GrantFilter,
) ([]models.PersistedGrant, error) {
	if filter.IsEmpty() {
		return nil, ErrEmptyFilter
	}

	index := s.filterIndex(filter)
	members, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.grantKey(m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var (
		grants []models.PersistedGrant
		stale  []any
	)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		var g models.PersistedGrant
		if err := json.Unmarshal([]byte(str), &g); err != nil {
			continue
		}
		if filter.Matches(&g) {
			grants = append(grants, g)
		}
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, index, stale...)
	}
	return grants, nil
}

func (s *RedisGrantStore) RemoveGrant(ctx context.Context, key string) error {
	grant, err := s.GetGrant(ctx, key)
	if errors.Is(err, ErrGrantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, grant)
}

func (s *RedisGrantStore) RemoveAllGrants(ctx context.Context, filter models.GrantFilter) error {
	grants, err := s.GetAllGrants(ctx, filter)
	if err != nil {
		return err
	}
	for i := range grants {
		if err := s.remove(ctx, &grants[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisGrantStore) remove(ctx context.Context, grant *models.PersistedGrant) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.grantKey(grant.Key))
		for _, idx := range s.indexKeys(grant) {
			pipe.SRem(ctx, idx, grant.Key)
		}
		return nil
	})
	return err
}

// Health pings Redis.
func (s *RedisGrantStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

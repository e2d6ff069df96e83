package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"realtime-whiteboard/internal/model"
)

// DefaultTTL 보드 presence 키 TTL (heartbeat 는 30초마다 갱신)
const DefaultTTL = 60 * time.Second

// RedisRegistry 여러 서버 인스턴스가 공유하는 presence 저장소
//
// 보드마다 해시 하나(presence:board:{id}), 필드는 connectionID, 값은 JSON 이다.
// Upsert 마다 키 TTL 을 갱신하므로 죽은 인스턴스의 레코드는 TTL 후 사라진다.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry 생성자
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

// Key 생성 유틸
func boardKey(boardID string) string {
	return fmt.Sprintf("presence:board:%s", boardID)
}

// Upsert 레코드 덮어쓰기 + TTL 연장
func (r *RedisRegistry) Upsert(ctx context.Context, boardID, connectionID string, p model.Presence) error {
	p.BoardID = boardID
	p.ConnectionID = connectionID

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	key := boardKey(boardID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connectionID, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence upsert %s/%s: %w", boardID, connectionID, err)
	}
	return nil
}

// Remove 레코드 삭제 (없으면 no-op)
func (r *RedisRegistry) Remove(ctx context.Context, boardID, connectionID string) error {
	if err := r.client.HDel(ctx, boardKey(boardID), connectionID).Err(); err != nil {
		return fmt.Errorf("presence remove %s/%s: %w", boardID, connectionID, err)
	}
	return nil
}

// List 보드의 모든 레코드 조회
func (r *RedisRegistry) List(ctx context.Context, boardID string) ([]model.Presence, error) {
	values, err := r.client.HGetAll(ctx, boardKey(boardID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list %s: %w", boardID, err)
	}

	out := make([]model.Presence, 0, len(values))
	for _, v := range values {
		var p model.Presence
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue // 깨진 값은 건너뜀
		}
		out = append(out, p)
	}
	sortPresence(out)
	return out, nil
}

// Package session хранит корзины покупателей в Redis с привязкой к сессии.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/boutique-system/internal/model"
)

const bagTTL = 7 * 24 * time.Hour

// Store хранит корзины сессий в Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore создаёт хранилище корзин поверх существующего клиента Redis.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		ttl:    bagTTL,
	}
}

// Bag возвращает корзину сессии. Отсутствие ключа — это пустая корзина,
// а не ошибка.
func (s *Store) Bag(ctx context.Context, sessionID string) (model.Bag, error) {
	data, err := s.client.Get(ctx, bagKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Bag{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get bag: %w", err)
	}

	var bag model.Bag
	if err := json.Unmarshal(data, &bag); err != nil {
		return nil, fmt.Errorf("unmarshal bag: %w", err)
	}

	return bag, nil
}

// SaveBag сохраняет корзину сессии, продлевая срок её жизни.
func (s *Store) SaveBag(ctx context.Context, sessionID string, bag model.Bag) error {
	data, err := json.Marshal(bag)
	if err != nil {
		return fmt.Errorf("marshal bag: %w", err)
	}

	if err := s.client.Set(ctx, bagKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set bag: %w", err)
	}

	return nil
}

// ClearBag удаляет корзину сессии. Повторная очистка — no-op.
func (s *Store) ClearBag(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, bagKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete bag: %w", err)
	}
	return nil
}

func bagKey(sessionID string) string {
	return fmt.Sprintf("bag:%s", sessionID)
}

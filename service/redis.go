package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emilythestrangee/algaerithm/config"
	"github.com/emilythestrangee/algaerithm/model"
	"github.com/emilythestrangee/algaerithm/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const detectionKeyPrefix = "algae:"

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetDetectionResult 从缓存获取检测结果，未命中时返回 nil, nil
func (s *RedisService) GetDetectionResult(ctx context.Context, key string) (*model.DetectionResult, error) {
	data, err := s.client.Get(ctx, detectionKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.DetectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal detection result",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetDetectionResult 设置检测结果到缓存
func (s *RedisService) SetDetectionResult(ctx context.Context, key string, result *model.DetectionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, detectionKeyPrefix+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

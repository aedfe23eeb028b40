package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/partnerly/partnerly/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyClickIngestIP   = "click:ingest:ip:%s"
	keyClickIngestCode = "click:ingest:code:%s"
)

// ClickIngestLimiter throttles the public click endpoint per source IP and
// per referral code. Disabled it admits everything; the tracker itself
// stays tolerant of duplicate rapid clicks either way.
type ClickIngestLimiter struct {
	enabled bool

	bucket *TokenBucket

	ipRate    float64
	ipBurst   int
	codeRate  float64
	codeBurst int
}

func NewClickIngestLimiter(cfg config.Config) (*ClickIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ClickIPRate <= 0 || limitCfg.ClickIPBurst <= 0 {
		return nil, errors.New("click ip rate limit must be positive")
	}
	if limitCfg.ClickCodeRate <= 0 || limitCfg.ClickCodeBurst <= 0 {
		return nil, errors.New("click code rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ClickIngestLimiter{
		enabled:   true,
		bucket:    NewTokenBucket(client),
		ipRate:    limitCfg.ClickIPRate,
		ipBurst:   limitCfg.ClickIPBurst,
		codeRate:  limitCfg.ClickCodeRate,
		codeBurst: limitCfg.ClickCodeBurst,
	}, nil
}

func (l *ClickIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ClickIngestLimiter) AllowIP(ctx context.Context, ip string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyClickIngestIP, strings.TrimSpace(ip)), l.ipRate, l.ipBurst)
}

func (l *ClickIngestLimiter) AllowCode(ctx context.Context, code string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyClickIngestCode, strings.TrimSpace(code)), l.codeRate, l.codeBurst)
}

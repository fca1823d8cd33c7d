package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter ограничивает частоту событий по ключу (token bucket с плавным пополнением).
// Используется для подключений к relay: одна комната = одно подключение на пира.
type RateLimiter struct {
	buckets  map[string]*bucket
	logger   *slog.Logger
	now      func() time.Time
	cleanupC chan struct{}
	stopOnce sync.Once
	burst    float64
	perSec   float64
	mu       sync.Mutex
}

// bucket состояние одного ключа
type bucket struct {
	lastSeen time.Time
	tokens   float64
}

// NewRateLimiter создает rate limiter: не больше rate событий за window,
// токены пополняются равномерно.
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		logger:   logger,
		now:      time.Now,
		cleanupC: make(chan struct{}),
		burst:    float64(rate),
		perSec:   float64(rate) / window.Seconds(),
	}

	go rl.cleanup(window)

	return rl
}

// cleanup периодически удаляет полностью пополненные buckets
func (rl *RateLimiter) cleanup(window time.Duration) {
	ticker := time.NewTicker(window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastSeen) > window*2 {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.cleanupC:
			return
		}
	}
}

// Stop останавливает cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.cleanupC) })
}

// Allow проверяет, разрешено ли событие для ключа
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, lastSeen: now}
		rl.buckets[key] = b
	}

	// Пополняем пропорционально прошедшему времени
	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens = min(rl.burst, b.tokens+elapsed*rl.perSec)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	return false
}

// KeyFunc извлекает ключ лимита из запроса
type KeyFunc func(r *http.Request) string

// ByClientIP ключ по IP адресу клиента
func ByClientIP(r *http.Request) string {
	return getClientIP(r)
}

// RateLimitMiddleware создает middleware для ограничения частоты запросов
func RateLimitMiddleware(limiter *RateLimiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)

			if !limiter.Allow(k) {
				logger.Warn("rate limit exceeded",
					"key", k,
					"method", r.Method,
					"path", sanitizePath(r.URL.Path),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded, please try again later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP извлекает IP адрес клиента из запроса
// Проверяет заголовки X-Forwarded-For и X-Real-IP для прокси
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Берем первый IP из списка (реальный клиент)
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"device-management/internal/store"

	"go.uber.org/zap"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:"

	idempotencyStoreTimeout = 2 * time.Second
)

// idempotencyRecord 保存在 KV 中的响应；Pending 表示首个请求仍在处理
type idempotencyRecord struct {
	Pending bool   `json:"pending,omitempty"`
	Status  int    `json:"status,omitempty"`
	Body    []byte `json:"body,omitempty"`
}

// Idempotency 对带 Idempotency-Key 的 POST 请求去重：
// 同一个 key 的重复请求直接返回第一次的响应，不会再次执行
// KV 不可用时退化为普通请求
func Idempotency(kv store.KV, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			kvKey := idempotencyPrefix + r.URL.Path + ":" + key

			// 1. 已有记录：回放或拒绝
			raw, err := kv.Get(ctx, kvKey)
			switch {
			case err == nil:
				replay(w, raw, logger)
				return
			case !errors.Is(err, store.ErrMiss):
				logger.Warn("Idempotency store unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			// 2. 占位，防止并发重复执行
			pending, _ := json.Marshal(idempotencyRecord{Pending: true})
			ok, err := kv.SetNX(ctx, kvKey, string(pending), ttl)
			if err != nil {
				logger.Warn("Idempotency store unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeJSON(w, http.StatusConflict, Fail("a request with this Idempotency-Key is in progress"))
				return
			}

			// 3. 执行并保存响应；5xx 或 panic 时释放占位，允许重试
			// 请求结束后客户端可能已断开，写回结果不能使用请求的 ctx
			storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyStoreTimeout)
			defer cancel()

			saved := false
			defer func() {
				if saved {
					return
				}
				if err := kv.Delete(storeCtx, kvKey); err != nil {
					logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
				}
			}()

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			done, _ := json.Marshal(idempotencyRecord{Status: rec.status, Body: rec.body.Bytes()})
			if err := kv.Set(storeCtx, kvKey, string(done), ttl); err != nil {
				logger.Warn("Failed to store idempotent response", zap.String("key", key), zap.Error(err))
				return
			}
			saved = true
		})
	}
}

func replay(w http.ResponseWriter, raw string, logger *zap.Logger) {
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logger.Error("Corrupt idempotency record", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal server error"))
		return
	}
	if rec.Pending {
		writeJSON(w, http.StatusConflict, Fail("a request with this Idempotency-Key is in progress"))
		return
	}
	w.Header().Set(headerReplayed, "true")
	if len(rec.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

// recordingWriter 同时写给客户端和缓冲区
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

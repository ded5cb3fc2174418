package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	apierrors "github.com/portfoliodash/payserver/internal/errors"
	"github.com/portfoliodash/payserver/internal/logger"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"

	// ReplayHeader marks a response served from the cache.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is how long successful responses are replayable.
	DefaultTTL = 24 * time.Hour

	maxKeyLength  = 255
	maxBodyToHash = 1 << 20
)

// captureWriter tees the handler response so it can be cached.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(status int) {
	if cw.status == 0 {
		cw.status = status
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Middleware replays the stored response for a repeated Idempotency-Key on the
// same method and path. Only 2xx responses are stored. A key reused with a
// different request body, or while the first request is still running, gets 409.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var inFlight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(rawKey) > maxKeyLength {
				apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "idempotency key too long")
				return
			}

			fingerprint, err := fingerprintBody(w, r)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					apierrors.WriteError(w, apierrors.ErrCodeRequestTooLarge, "request body too large")
					return
				}
				apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "unable to read request body")
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey
			log := logger.FromContext(r.Context())

			if cached, ok := store.Get(r.Context(), key); ok {
				if cached.Fingerprint != fingerprint {
					apierrors.WriteError(w, apierrors.ErrCodeIdempotencyConflict, "idempotency key was used with a different request")
					return
				}
				log.Debug().Str("idempotency_key", logger.TruncateID(rawKey)).Msg("idempotency.replayed")
				replay(w, cached)
				return
			}

			if _, busy := inFlight.LoadOrStore(key, struct{}{}); busy {
				apierrors.WriteError(w, apierrors.ErrCodeIdempotencyConflict, "a request with this idempotency key is in progress")
				return
			}
			defer inFlight.Delete(key)

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status < 200 || cw.status >= 300 {
				return
			}
			resp := &Response{
				StatusCode:  cw.status,
				Header:      w.Header().Clone(),
				Body:        append([]byte(nil), cw.body.Bytes()...),
				Fingerprint: fingerprint,
				StoredAt:    time.Now(),
			}
			resp.Header.Del(logger.RequestIDHeader)
			if err := store.Set(r.Context(), key, resp, ttl); err != nil {
				log.Warn().Err(err).Msg("idempotency.store_failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *Response) {
	for name, values := range cached.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// fingerprintBody hashes the body and restores it for the next handler.
// Bodies over maxBodyToHash fail with *http.MaxBytesError.
func fingerprintBody(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyToHash))
	if err != nil {
		return "", err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос: method, path и время выполнения (асинхронно, не блокирует).
// Статус ответа идёт в счётчик http_requests_total.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		wrap, ok := w.(*responseWriter)
		if !ok {
			wrap = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(wrap, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrap.status)).Inc()
	})
}

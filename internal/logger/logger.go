// Package logger пишет логи с префиксом сервиса через асинхронный буфер, чтобы запись в stderr
// не тормозила event loop контроллеров и HTTP-обработчики.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connectsocial/internal/model"
)

const (
	asyncBufferSize = 8192
	slowCall        = 100 * time.Millisecond
)

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	dropped  atomic.Int64
	ch       chan string
	once     sync.Once
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	if os.Getenv("LOG_LEVEL") != "" {
		logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
	} else {
		logLevel.Store(int32(levelInfo))
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(l level, msg string) {
	once.Do(initWorker)
	if level(logLevel.Load()) > l {
		return
	}
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем вызывающего, считаем потерянные строки.
		dropped.Add(1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "timeline").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет LOG_LEVEL (значение из конфига).
func SetLevel(s string) {
	once.Do(initWorker)
	logLevel.Store(int32(parseLevel(s)))
}

// Dropped: число строк, потерянных из-за переполнения буфера.
func Dropped() int64 { return dropped.Load() }

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration пишет имя функции и длительность. На уровне info: только вызовы дольше 100ms.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if level(logLevel.Load()) == levelDebug || elapsed >= slowCall {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("ListSMS", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// MaskPhone оставляет в логах только последние четыре цифры номера.
func MaskPhone(phone string) string {
	d := model.NormalizePhone(phone)
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}

// Package logging はslogベースのロガーを構築します
// 標準出力に加え、指定があればlumberjackでローテーションするファイルにも出力します
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの設定です
type Options struct {
	Level  string // debug / info / warn / error
	Format string // text / json
	File   string // 空の場合ファイル出力なし

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel は文字列のログレベルをslog.Levelに変換します
// 未知の値はinfo扱いです
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New はロガーを作成します
// 返されるio.Closerはファイル出力を閉じるためのもので、ファイル出力がない場合も非nilです
func New(opts Options, stdout io.Writer) (*slog.Logger, io.Closer) {
	if stdout == nil {
		stdout = os.Stdout
	}

	var (
		w                = stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 10),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			Compress:   true,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(h), closer
}

// Discard はテスト用に何も出力しないロガーを返します
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

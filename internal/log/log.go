// Package log wraps logrus with the component-fielded logger shape used
// throughout the pipeline stages, optional file rotation, and an
// optional Elasticsearch sink.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/internetarchive/elogrus"
	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Fields is a shorthand for logrus.Fields, kept so call sites never need
// to import logrus directly.
type Fields = logrus.Fields

// FieldedLogger is a logrus.Entry pre-populated with a component name,
// matching the "component": "<stage>" convention used across every
// pipeline stage.
type FieldedLogger struct {
	entry *logrus.Entry
}

// ElasticsearchConfig optionally ships log entries to an ES index in
// addition to the local file/stdout sinks.
type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string
}

// Config controls where log output goes.
type Config struct {
	LogDir        string
	FilePrefix    string
	StdoutEnabled bool
	Level         logrus.Level
	Elasticsearch *ElasticsearchConfig
}

var (
	base    *logrus.Logger
	once    sync.Once
	started bool
)

// Start initializes the global logger. Safe to call multiple times;
// only the first call takes effect.
func Start(cfg Config) error {
	var err error
	once.Do(func() {
		base = logrus.New()
		base.SetLevel(cfg.Level)
		base.SetFormatter(&logrus.JSONFormatter{})

		if cfg.StdoutEnabled {
			base.SetOutput(os.Stdout)
		} else {
			base.SetOutput(os.Stderr)
		}

		if cfg.LogDir != "" {
			if mkErr := os.MkdirAll(cfg.LogDir, 0o755); mkErr != nil {
				err = fmt.Errorf("creating log dir: %w", mkErr)
				return
			}
			pattern := filepath.Join(cfg.LogDir, cfg.FilePrefix+"-%Y%m%d%H%M.log")
			rl, rlErr := rotatelogs.New(pattern, rotatelogs.WithRotationTime(86400e9))
			if rlErr != nil {
				err = fmt.Errorf("setting up log rotation: %w", rlErr)
				return
			}
			base.AddHook(&fileHook{writer: rl, level: cfg.Level})
		}

		if cfg.Elasticsearch != nil && len(cfg.Elasticsearch.Addresses) > 0 {
			esClient, esErr := elasticsearch.NewClient(elasticsearch.Config{
				Addresses: cfg.Elasticsearch.Addresses,
				Username:  cfg.Elasticsearch.Username,
				Password:  cfg.Elasticsearch.Password,
			})
			if esErr != nil {
				err = fmt.Errorf("setting up elasticsearch client: %w", esErr)
				return
			}
			hook, hookErr := elogrus.NewAsyncElasticHook(esClient, "acquire", cfg.Level, cfg.Elasticsearch.IndexName)
			if hookErr != nil {
				err = fmt.Errorf("setting up elasticsearch hook: %w", hookErr)
				return
			}
			base.AddHook(hook)
		}

		started = true
	})
	if !started && err == nil {
		return nil
	}
	return err
}

// Stop is a no-op placeholder for symmetry with every other stage's
// Start/Stop lifecycle. The file hook writes synchronously on Fire; the
// Elasticsearch hook is asynchronous and Stop does not flush it.
func Stop() {}

// NewFieldedLogger returns a logger pre-populated with the given fields,
// matching every pipeline stage's "component": "<stage>" convention.
func NewFieldedLogger(fields *Fields) *FieldedLogger {
	if base == nil {
		_ = Start(Config{StdoutEnabled: true, Level: logrus.InfoLevel})
	}
	return &FieldedLogger{entry: base.WithFields(*fields)}
}

func (f *FieldedLogger) Debug(msg string, kv ...interface{}) { f.log(logrus.DebugLevel, msg, kv...) }
func (f *FieldedLogger) Info(msg string, kv ...interface{})  { f.log(logrus.InfoLevel, msg, kv...) }
func (f *FieldedLogger) Warn(msg string, kv ...interface{})  { f.log(logrus.WarnLevel, msg, kv...) }
func (f *FieldedLogger) Error(msg string, kv ...interface{}) { f.log(logrus.ErrorLevel, msg, kv...) }

func (f *FieldedLogger) log(level logrus.Level, msg string, kv ...interface{}) {
	entry := f.entry
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		entry = entry.WithField(key, kv[i+1])
	}
	entry.Log(level, msg)
}

// fileHook writes raw entries to the rotating file, independent of the
// base logger's primary stdout/stderr output.
type fileHook struct {
	writer interface {
		Write([]byte) (int, error)
	}
	level logrus.Level
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

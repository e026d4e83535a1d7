package audio

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// NewCleanupScheduler 返回一个按 schedule 定期执行 Purge 的 cron，调用方负责 Start/Stop。
func NewCleanupScheduler(svc *Service, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	c := cron.New(cron.WithLogger(newCronLogger(logger)), cron.WithParser(parser))

	_, err := c.AddFunc(schedule, func() {
		if _, err := svc.Purge(); err != nil {
			logger.Error("audio cleanup failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func newCronLogger(logger *zap.Logger) cronLogger {
	return cronLogger{logger: logger.Named("cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(toFields(keysAndValues), zap.Error(err))...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

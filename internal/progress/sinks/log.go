package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/hn-mirror/internal/progress"
)

// LogSink writes each crawl event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Fetch errors are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("crawl_id", evt.CrawlUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("trigger", string(evt.Trigger)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageFetchDone, progress.StageFetchError:
			fields = append(fields, zap.Uint64("item_id", uint64(evt.ItemID)))
		case progress.StageCrawlDone:
			fields = append(fields, zap.Int64("fetched", evt.Fetched), zap.Int64("failed", evt.Failed))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageFetchError || evt.Stage == progress.StageRefreshError {
			s.logger.Warn("crawl event", fields...)
			continue
		}
		s.logger.Info("crawl event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

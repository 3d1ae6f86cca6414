package observes

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

type SentryOptions struct {
	Dsn         string
	Name        string
	Release     string
	Environment string
	SampleRate  float64
}

// NewSentry is the register sentry
func NewSentry(opt *SentryOptions) error {
	// if not exist sentry config, skip initialization
	if opt == nil || opt.Dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              opt.Dsn,
		AttachStacktrace: true,
		ServerName:       opt.Name,
		Release:          opt.Release,
		Environment:      opt.Environment,
		SampleRate:       opt.SampleRate,
	})
}

// FlushSentry waits for buffered events to be delivered.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// SentryHook forwards error level log entries to sentry.
type SentryHook struct {
	hub *sentry.Hub
}

// NewSentryHook binds the hook to the current sentry hub.
func NewSentryHook() *SentryHook {
	return &SentryHook{hub: sentry.CurrentHub()}
}

func (h *SentryHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *SentryHook) Fire(entry *logrus.Entry) error {
	h.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range entry.Data {
			scope.SetExtra(k, v)
		}
		if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
			h.hub.CaptureException(fmt.Errorf("%s: %w", entry.Message, err))
			return
		}
		h.hub.CaptureException(errors.New(entry.Message))
	})
	return nil
}

package session

import (
	"log/slog"
)

// LoggingStore wraps a Store and logs every mutation. Values are never logged.
type LoggingStore struct {
	next   Store
	logger *slog.Logger
}

// NewLoggingStore decorates next with debug logging.
func NewLoggingStore(next Store, logger *slog.Logger) *LoggingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingStore{next: next, logger: logger}
}

// Get reads through without logging.
func (s *LoggingStore) Get(key string) (string, error) {
	return s.next.Get(key)
}

// Set logs and forwards the write.
func (s *LoggingStore) Set(key, value string) error {
	err := s.next.Set(key, value)
	if err != nil {
		s.logger.Warn("session store write failed", "key", key, "error", err)
		return err
	}
	s.logger.Debug("session store write", "key", key, "length", len(value))
	return nil
}

// Remove logs and forwards the delete.
func (s *LoggingStore) Remove(key string) error {
	err := s.next.Remove(key)
	if err != nil {
		s.logger.Warn("session store remove failed", "key", key, "error", err)
		return err
	}
	s.logger.Debug("session store remove", "key", key)
	return nil
}

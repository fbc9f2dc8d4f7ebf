package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogRequestRecordsSuccessAndFailure(t *testing.T) {
	writer := &mockWriter{}
	logger := NewLogger(10, writer)

	logger.LogRequest("cksum", "/mypool:/obj", "adler32", "127.0.0.1:5000", "corr-1", 0, nil, 5*time.Millisecond)
	logger.LogRequest("cksum", "/mypool:/missing", "adler32", "127.0.0.1:5000", "corr-2", 1, errors.New("not found"), time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 2)
	require.True(t, events[0].Success)
	require.False(t, events[1].Success)
	require.Equal(t, "not found", events[1].Error)
}

func TestLogAuthFailure(t *testing.T) {
	writer := &mockWriter{}
	logger := NewLogger(10, writer)

	logger.LogAuthFailure("10.0.0.1:1234", errors.New("bad digest"))

	events := logger.GetEvents()
	require.Len(t, events, 1)
	require.Equal(t, EventTypeAuthFailure, events[0].EventType)
	require.Equal(t, "bad digest", events[0].Error)
}

func TestLoggerCapsBufferedEvents(t *testing.T) {
	logger := NewLogger(2, &mockWriter{})
	for i := 0; i < 5; i++ {
		logger.LogRequest("ping", "", "", "", "", 0, nil, 0)
	}
	require.Len(t, logger.GetEvents(), 2)
}

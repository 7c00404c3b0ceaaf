package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/domain"
)

type memSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *memSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *memSender) Name() string { return s.name }

func (s *memSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

type memSource struct {
	ch  chan domain.TxRecord
	err error
}

func (s *memSource) Subscribe(context.Context) (<-chan domain.TxRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &memSender{name: "mem"}
	n := NewNotifier([]Sender{sender}, []string{EventFlowFailed}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventFlowComplete, "done", "body"))
	require.NoError(t, n.Notify(ctx, EventFlowFailed, "broke", "body"))

	assert.Equal(t, []string{"broke"}, sender.sent())
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := &memSender{name: "mem"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.sent(), 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	broken := &memSender{name: "broken", err: errors.New("api down")}
	healthy := &memSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, healthy.sent(), 1, "the healthy sender still delivers")
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestRecordWatcherNotifiesTerminalRecordsOnly(t *testing.T) {
	sender := &memSender{name: "mem"}
	notifier := NewNotifier([]Sender{sender}, []string{EventFlowComplete, EventFlowFailed}, testLogger())
	source := &memSource{ch: make(chan domain.TxRecord, 4)}
	w := NewRecordWatcher(source, notifier, testLogger())

	source.ch <- domain.TxRecord{Flow: domain.FlowBorrow, Status: domain.RecordPending}
	source.ch <- domain.TxRecord{
		Flow:   domain.FlowBorrow,
		Status: domain.RecordComplete,
		TxHash: "0xabc",
		Meta:   domain.RecordMeta{Title: "Borrow 100 USDC"},
	}
	source.ch <- domain.TxRecord{
		Flow:   domain.FlowWithdraw,
		Status: domain.RecordFailed,
		Error:  "Signature request was declined.",
	}
	close(source.ch)

	err := w.Run(context.Background())
	require.NoError(t, err, "a closed feed is a clean shutdown")

	titles := sender.sent()
	require.Len(t, titles, 2, "pending updates are ignored")
	assert.Contains(t, titles[0], "borrow")
	assert.Contains(t, titles[0], "complete")
	assert.Contains(t, titles[1], "withdraw")
	assert.Contains(t, titles[1], "failed")
	assert.Contains(t, sender.bodies[0], "0xabc")
	assert.Contains(t, sender.bodies[1], "Signature request was declined.")
}

func TestRecordWatcherStopsOnContextCancel(t *testing.T) {
	source := &memSource{ch: make(chan domain.TxRecord)}
	w := NewRecordWatcher(source, NewNotifier(nil, nil, testLogger()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordWatcherSubscribeError(t *testing.T) {
	source := &memSource{err: errors.New("redis down")}
	w := NewRecordWatcher(source, NewNotifier(nil, nil, testLogger()), testLogger())

	err := w.Run(context.Background())
	assert.Error(t, err)
}

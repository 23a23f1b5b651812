package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFinish_ReportsDoneAndEvent(t *testing.T) {
	s := New(context.Background(), 100)
	s.ReportProgress(40)
	require.Equal(t, int64(40), s.BytesLoaded())

	s.Finish()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not reach done")
	}
	ev, err := s.Wait()
	require.Equal(t, EventFinished, ev)
	require.NoError(t, err)
}

func TestFail_ReportsError(t *testing.T) {
	s := New(context.Background(), -1)
	wantErr := errors.New("boom")
	s.Fail(wantErr)

	ev, err := s.Wait()
	require.Equal(t, EventError, ev)
	require.Equal(t, wantErr, err)
}

func TestCancel_CancelsContextAndIsIdempotent(t *testing.T) {
	s := New(context.Background(), -1)
	s.Cancel()
	s.Cancel() // must not panic or double-close

	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context should be cancelled")
	}
	ev, err := s.Wait()
	require.Equal(t, EventCancelled, ev)
	require.NoError(t, err)
}

func TestFinish_IsNoopAfterTerminal(t *testing.T) {
	s := New(context.Background(), -1)
	s.Fail(errors.New("first"))
	s.Finish() // should not override the first terminal event

	ev, err := s.Wait()
	require.Equal(t, EventError, ev)
	require.EqualError(t, err, "first")
}

func TestOnProgress_NotifiesObservers(t *testing.T) {
	s := New(context.Background(), 10)
	var gotLoaded, gotTotal int64
	s.OnProgress(func(loaded, total int64) {
		gotLoaded, gotTotal = loaded, total
	})
	s.ReportProgress(5)
	require.Equal(t, int64(5), gotLoaded)
	require.Equal(t, int64(10), gotTotal)
}

func TestParentCancellation_PropagatesToStreamContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent, -1)
	cancel()

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("stream context should be cancelled when parent is")
	}
}

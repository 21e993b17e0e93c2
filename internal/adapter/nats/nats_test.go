package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/messagequeue"
	"github.com/Strob0t/PostForge/internal/testutil"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T, prefix string) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, q.Close()) })
	return q
}

func TestQueue_RelayRoundTrip(t *testing.T) {
	q := testConnect(t, "postforgetest")
	require.True(t, q.IsConnected())

	subject := messagequeue.SubjectFor("postforgetest", event.TypeRunUpdated)
	var (
		mu       sync.Mutex
		received *run.Run
		done     = make(chan struct{})
		once     sync.Once
	)
	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var env struct {
			Payload run.Run `json:"payload"`
		}
		if err := json.Unmarshal(d, &env); err != nil {
			return err
		}
		mu.Lock()
		received = &env.Payload
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	require.NoError(t, err)
	defer stop()

	relay := NewRelay(q, "postforgetest", testutil.TestLogger())
	relay.Listen(event.Envelope{Type: event.TypeRunUpdated, Payload: run.Run{ID: "run-42", Status: run.StatusDrafting}})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, "run-42", received.ID)
	assert.Equal(t, run.StatusDrafting, received.Status)
}

func TestQueue_InvalidMessageNeverReachesHandler(t *testing.T) {
	q := testConnect(t, "postforgetest")
	subject := messagequeue.SubjectFor("postforgetest", event.TypeLogAdded)

	called := make(chan struct{}, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		called <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, q.Publish(context.Background(), subject, []byte(`{"type":"run_updated","payload":{}}`)))

	select {
	case <-called:
		t.Fatal("handler received a message with a mismatched event type")
	case <-time.After(500 * time.Millisecond):
	}
}

// fakeQueue records publishes for relay unit tests.
type fakeQueue struct {
	mu         sync.Mutex
	subjects   []string
	payloads   [][]byte
	publishErr error
}

func (f *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (f *fakeQueue) Drain() error      { return nil }
func (f *fakeQueue) Close() error      { return nil }
func (f *fakeQueue) IsConnected() bool { return true }

func TestRelay_MapsTypesToSubjects(t *testing.T) {
	fq := &fakeQueue{}
	relay := NewRelay(fq, "postforge", testutil.TestLogger())

	relay.Listen(event.Envelope{Type: event.TypeRunUpdated, Payload: map[string]string{"id": "r1"}})
	relay.Listen(event.Envelope{Type: event.TypeLogAdded, Payload: map[string]string{"id": "l1"}})
	relay.Listen(event.Envelope{Type: "heartbeat", Payload: 1})

	require.Len(t, fq.subjects, 2)
	assert.Equal(t, "postforge.runs.updated", fq.subjects[0])
	assert.Equal(t, "postforge.runs.log", fq.subjects[1])
	assert.JSONEq(t, `{"type":"log_added","payload":{"id":"l1"}}`, string(fq.payloads[1]))
	for i, p := range fq.payloads {
		assert.NoError(t, messagequeue.Validate(fq.subjects[i], p))
	}
}

func TestRelay_PublishErrorIsSwallowed(t *testing.T) {
	fq := &fakeQueue{publishErr: errors.New("broker down")}
	relay := NewRelay(fq, "postforge", testutil.TestLogger())

	assert.NotPanics(t, func() {
		relay.Listen(event.Envelope{Type: event.TypeRunUpdated, Payload: map[string]string{"id": "r1"}})
	})
}

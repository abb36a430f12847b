package ws_test

import (
	"context"
	"testing"

	"github.com/conciergeos/concierge/internal/adapter/ws"
	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

type fakeQueue struct {
	handlers  map[string]messagequeue.Handler
	cancelled int
	failOn    string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	if subject == q.failOn {
		return nil, context.DeadlineExceeded
	}
	q.handlers[subject] = handler
	return func() { q.cancelled++ }, nil
}

func (q *fakeQueue) Close() error { return nil }

func TestForwarderSubscribesAllSubjects(t *testing.T) {
	queue := newFakeQueue()
	f := ws.NewForwarder(ws.NewHub(), queue)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop()

	for _, subject := range []string{
		messagequeue.SubjectActionAnnounced,
		messagequeue.SubjectActionExecuted,
		messagequeue.SubjectConfirmationCreated,
		messagequeue.SubjectConfirmationClosed,
		messagequeue.SubjectTimerFired,
	} {
		if _, ok := queue.handlers[subject]; !ok {
			t.Errorf("no subscription for %s", subject)
		}
	}
}

func TestForwarderStopCancelsSubscriptions(t *testing.T) {
	queue := newFakeQueue()
	f := ws.NewForwarder(ws.NewHub(), queue)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.Stop()

	if queue.cancelled != len(queue.handlers) {
		t.Fatalf("expected %d cancels, got %d", len(queue.handlers), queue.cancelled)
	}
}

func TestForwarderSubscribeFailureUnwinds(t *testing.T) {
	queue := newFakeQueue()
	queue.failOn = messagequeue.SubjectTimerFired
	f := ws.NewForwarder(ws.NewHub(), queue)

	if err := f.Start(context.Background()); err == nil {
		t.Fatal("expected error when a subscription fails")
	}
	if queue.cancelled != len(queue.handlers) {
		t.Fatalf("expected earlier subscriptions cancelled, got %d of %d", queue.cancelled, len(queue.handlers))
	}
}

func TestForwarderHandlersTolerateWellFormedPayloads(t *testing.T) {
	queue := newFakeQueue()
	f := ws.NewForwarder(ws.NewHub(), queue)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop()

	payloads := map[string]string{
		messagequeue.SubjectActionAnnounced:     `{"user_id":"amira","action":"light_set","message":"Dimming the lights."}`,
		messagequeue.SubjectActionExecuted:      `{"user_id":"amira","action":"light_set","success":true}`,
		messagequeue.SubjectConfirmationCreated: `{"confirmation_id":"c1","user_id":"amira","action":"send_email","expires_at":"2026-09-01T10:00:00Z"}`,
		messagequeue.SubjectConfirmationClosed:  `{"confirmation_id":"c1","user_id":"amira","status":"CONFIRMED"}`,
		messagequeue.SubjectTimerFired:          `{"id":"t1","user_id":"amira","label":"pasta"}`,
	}
	for subject, payload := range payloads {
		if err := queue.handlers[subject](context.Background(), subject, []byte(payload)); err != nil {
			t.Errorf("%s handler failed: %v", subject, err)
		}
	}
}

func TestForwarderHandlerRejectsBadJSON(t *testing.T) {
	queue := newFakeQueue()
	f := ws.NewForwarder(ws.NewHub(), queue)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop()

	handler := queue.handlers[messagequeue.SubjectTimerFired]
	if err := handler(context.Background(), messagequeue.SubjectTimerFired, []byte("{broken")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

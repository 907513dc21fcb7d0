package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/job"
)

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsReceipt struct {
	MessageID string `json:"message_id"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got smsPayload
	def := job.NewDefinition("notifications", func(_ context.Context, p smsPayload) (smsReceipt, error) {
		got = p
		return smsReceipt{MessageID: "msg-1"}, nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("notifications")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(smsPayload{To: "+15550100", Body: "pickup scheduled"})
	result, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "+15550100" {
		t.Errorf("To = %q, want %q", got.To, "+15550100")
	}

	var receipt smsReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if receipt.MessageID != "msg-1" {
		t.Errorf("MessageID = %q, want %q", receipt.MessageID, "msg-1")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered queue")
	}
}

func TestRegistry_Queues(t *testing.T) {
	r := job.NewRegistry()

	noop := func(_ context.Context, _ struct{}) (struct{}, error) { return struct{}{}, nil }
	job.RegisterDefinition(r, job.NewDefinition("billing", noop))
	job.RegisterDefinition(r, job.NewDefinition("notifications", noop))
	job.RegisterDefinition(r, job.NewDefinition("routing", noop))

	queues := r.Queues()
	sort.Strings(queues)
	if len(queues) != 3 {
		t.Fatalf("expected 3 queues, got %d", len(queues))
	}
	expected := []string{"billing", "notifications", "routing"}
	for i, want := range expected {
		if queues[i] != want {
			t.Errorf("queues[%d] = %q, want %q", i, queues[i], want)
		}
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("billing",
		func(_ context.Context, _ struct{}) (struct{}, error) { return struct{}{}, nil },
		job.WithMaxAttempts(5),
		job.WithTimeout(time.Minute),
	))

	opts := r.Defaults("billing")
	if opts.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", opts.MaxAttempts)
	}
	if opts.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want %v", opts.Timeout, time.Minute)
	}

	// Unknown queues fall back to package defaults.
	fallback := r.Defaults("unknown")
	if fallback.MaxAttempts != job.DefaultOptions().MaxAttempts {
		t.Errorf("fallback MaxAttempts = %d, want %d", fallback.MaxAttempts, job.DefaultOptions().MaxAttempts)
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed", func(_ context.Context, _ smsPayload) (struct{}, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return struct{}{}, nil
	}))

	h, _ := r.Get("typed")
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-payload", func(_ context.Context, _ struct{}) (struct{}, error) {
		called = true
		return struct{}{}, nil
	}))

	h, _ := r.Get("no-payload")
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, want
	}))

	h, _ := r.Get("failing")
	_, err := h(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("old")
	}))
	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("new")
	}))

	h, _ := r.Get("overwrite")
	_, err := h(context.Background(), nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}

package system

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingService struct {
	name     string
	startErr error
	log      *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	*r.log = append(*r.log, "start:"+r.name)
	return r.startErr
}

func (r recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"store", "scheduler", "http"} {
		if err := m.Register(recordingService{name: name, log: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := "start:store,start:scheduler,start:http,stop:http,stop:scheduler,stop:store"
	if got := strings.Join(events, ","); got != want {
		t.Fatalf("unexpected order:\n got %s\nwant %s", got, want)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(recordingService{name: "a", log: &events})
	_ = m.Register(recordingService{name: "b", log: &events, startErr: errors.New("boom")})
	_ = m.Register(recordingService{name: "c", log: &events})

	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start b") {
		t.Fatalf("expected start failure for b, got %v", err)
	}
	want := "start:a,start:b,stop:a"
	if got := strings.Join(events, ","); got != want {
		t.Fatalf("unexpected order:\n got %s\nwant %s", got, want)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(recordingService{name: "accounts", log: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recordingService{name: "accounts", log: &events}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := m.Register(recordingService{log: &events}); err == nil {
		t.Fatalf("expected error for unnamed service")
	}
	if got := m.Services(); len(got) != 1 || got[0] != "accounts" {
		t.Fatalf("unexpected services %v", got)
	}
}

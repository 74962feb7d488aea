package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
)

func TestWatch_PublishesChanges(t *testing.T) {
	s := testStore(t)

	events := make(chan domain.WorkflowEvent, 64)
	w, err := Watch(s, func(ev domain.WorkflowEvent) { events <- ev }, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, s.Write("hello.txt", []byte("hi")))

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventLog, ev.Kind)
		assert.Equal(t, "workspace changed", ev.Message)
		assert.Equal(t, "hello.txt", ev.Extra["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event for file creation")
	}
}

func TestWatch_FollowsNewDirectories(t *testing.T) {
	s := testStore(t)

	events := make(chan domain.WorkflowEvent, 64)
	w, err := Watch(s, func(ev domain.WorkflowEvent) { events <- ev }, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, s.Mkdir("sub"))

	// Wait for the directory event so the watcher has added the new dir.
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no event for directory creation")
	}

	require.NoError(t, s.Write("sub/inner.txt", []byte("x")))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Extra["path"] == "sub/inner.txt" {
				return
			}
		case <-deadline:
			t.Fatal("no event for file inside new directory")
		}
	}
}

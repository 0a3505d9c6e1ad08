package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/session"
)

func TestEvent_Identity(t *testing.T) {
	ev := Event{ProjectPath: "/p", SessionID: "s1", Status: &index.Status{Ready: true}}
	assert.Equal(t, session.Identity{ProjectPath: "/p", SessionID: "s1"}, ev.Identity())
}

func TestOnce_DisposesAtMostOnce(t *testing.T) {
	calls := 0
	d := Once(func() { calls++ })

	d.Dispose()
	d.Dispose()
	d.Dispose()

	assert.Equal(t, 1, calls)
}

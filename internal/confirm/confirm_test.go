package confirm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRunsAction(t *testing.T) {
	var p Pending
	ran := false
	req := p.Post(ActionLogout, "Log out?", func(context.Context) error {
		ran = true
		return nil
	})
	assert.Equal(t, req, p.Current())

	require.NoError(t, p.Resolve(context.Background()))
	assert.True(t, ran)
	assert.NoError(t, req.Wait(context.Background()))
	assert.Nil(t, p.Current())
}

func TestCancelSkipsAction(t *testing.T) {
	var p Pending
	req := p.Post(ActionDeleteAccount, "Delete?", func(context.Context) error {
		t.Fatal("action must not run")
		return nil
	})
	require.NoError(t, p.Cancel())
	assert.ErrorIs(t, req.Wait(context.Background()), ErrCancelled)
	assert.ErrorIs(t, p.Cancel(), ErrNoPending)
}

func TestPostReplacesPrevious(t *testing.T) {
	var p Pending
	first := p.Post(ActionLogout, "first", func(context.Context) error { return nil })
	boom := errors.New("boom")
	second := p.Post(ActionDeleteAccount, "second", func(context.Context) error { return boom })

	assert.ErrorIs(t, first.Wait(context.Background()), ErrCancelled)
	assert.ErrorIs(t, p.Resolve(context.Background()), boom)
	assert.ErrorIs(t, second.Wait(context.Background()), boom)
}

func TestResolveWithoutPending(t *testing.T) {
	var p Pending
	assert.ErrorIs(t, p.Resolve(context.Background()), ErrNoPending)
}

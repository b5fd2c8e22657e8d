//go:build !windows

package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopRestartOutput(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateRequest{ProcessID: "loop", Shell: true, Command: "echo hello; echo oops >&2; sleep 30"})
	require.NoError(t, err)

	res, err := c.Start(ctx, "loop")
	require.NoError(t, err)
	assert.Equal(t, "running", res.Status)
	assert.Positive(t, res.PID)

	_, err = c.Start(ctx, "loop")
	assert.True(t, IsCode(err, "already_running"), "got %v", err)

	require.Eventually(t, func() bool {
		out, err := c.Output(ctx, "loop", OutputQuery{})
		return err == nil && len(out.Lines) == 2
	}, 5*time.Second, 20*time.Millisecond)

	out, err := c.Output(ctx, "loop", OutputQuery{Stream: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, []string{"oops"}, out.Lines)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "stderr", out.Entries[0].Stream)

	st, err := c.Status(ctx, "loop")
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)

	re, err := c.Restart(ctx, "loop", time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, res.PID, re.PID)

	stopped, err := c.Stop(ctx, "loop", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stopped", stopped.Status)
	require.NotNil(t, stopped.ExitCode)
	assert.Equal(t, 0, *stopped.ExitCode)
}

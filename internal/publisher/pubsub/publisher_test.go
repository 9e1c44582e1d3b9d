package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Topic: "runs"})
	require.ErrorContains(t, err, "notify.project_id")
	_, err = New(context.Background(), Config{ProjectID: "p"})
	require.ErrorContains(t, err, "notify.topic")
}

func TestUnconfiguredPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "runs", map[string]string{})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, p.Close())
}

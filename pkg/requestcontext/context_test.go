package requestcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := SetRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestActor(t *testing.T) {
	ctx := SetActor(context.Background(), "alice")
	assert.Equal(t, "alice", GetActor(ctx))
	assert.Equal(t, "", GetActor(context.Background()))
}

package requestid

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestNew_Fresh(t *testing.T) {
	_, a := New(context.Background())
	_, b := New(context.Background())
	assert.NotEqual(t, a, b)
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestStamp(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
	assert.Equal(t, "test-123", Stamp(req))
	assert.Equal(t, "test-123", req.Header.Get(Header))

	bare, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	id := Stamp(bare)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, bare.Header.Get(Header))
}

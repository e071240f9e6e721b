package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() context.Context
		want map[string]string
	}{
		{
			name: "empty",
			ctx:  context.Background,
			want: map[string]string{},
		},
		{
			name: "request and product",
			ctx: func() context.Context {
				ctx := WithRequestID(context.Background(), "abc")
				return WithProductID(ctx, "sku-1")
			},
			want: map[string]string{"request.id": "abc", "product.id": "sku-1"},
		},
		{
			name: "sync run",
			ctx: func() context.Context {
				return WithSyncRunID(context.Background(), "run-1")
			},
			want: map[string]string{"sync.run_id": "run-1"},
		},
		{
			name: "empty ids ignored",
			ctx: func() context.Context {
				ctx := WithRequestID(context.Background(), "")
				return WithSyncRunID(ctx, "")
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[string]string{}
			for _, f := range ContextFields(tt.ctx()) {
				got[f.Key] = f.String
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithRequestID_Truncates(t *testing.T) {
	ctx := WithRequestID(context.Background(), strings.Repeat("x", 500))
	assert.Len(t, RequestIDFromContext(ctx), maxIDLen)
}

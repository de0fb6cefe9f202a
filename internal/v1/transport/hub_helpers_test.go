package transport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://watch.example.com"}

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"no origin header allows non-browser clients", "", false},
		{"allowed http origin", "http://localhost:3000", false},
		{"allowed https origin", "https://watch.example.com", false},
		{"scheme mismatch", "https://localhost:3000", true},
		{"host mismatch", "http://evil.example.com", true},
		{"port mismatch", "http://localhost:9999", true},
		{"garbage origin", "://not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			err := validateOrigin(req, allowed)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrigin_EmptyAllowList(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	assert.Error(t, validateOrigin(req, nil))
}

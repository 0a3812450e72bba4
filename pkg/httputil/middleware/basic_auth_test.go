package middleware

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyBasicAuth(t *testing.T) {
	tests := []struct {
		name            string
		authHeader      string
		expectedMessage string
		expectedUser    string
		expectedStatus  int
	}{
		{
			name:            "missing authorization header",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "authorization header missing",
		},
		{
			name:            "invalid authorization format",
			authHeader:      "Bearer some-token",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "invalid authorization format",
		},
		{
			name:            "invalid base64 encoding",
			authHeader:      "Basic invalid-base64",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "invalid authorization format",
		},
		{
			name:            "invalid credentials",
			authHeader:      "Basic " + base64.StdEncoding.EncodeToString([]byte("user:wrongpass")),
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "invalid credentials",
		},
		{
			name:           "valid credentials",
			authHeader:     "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass")),
			expectedStatus: http.StatusOK,
			expectedUser:   "user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/Sensors/101", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler := VerifyBasicAuth(BasicAuthCreds(map[string]string{"user": "pass"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, ok := httputil.BasicAuthUser(r)
				assert.True(t, ok)
				assert.Equal(t, tt.expectedUser, user)
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedMessage != "" {
				var body httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, tt.expectedMessage, body.Message)
				assert.Equal(t, tt.expectedStatus, body.Code)
			}
		})
	}
}

package httptransport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resetgate/internal/reset"
	"resetgate/pkg/testutil"
)

// fakeService records calls and returns scripted terminals.
type fakeService struct {
	mu            sync.Mutex
	requested     []string
	redeemStatus  reset.RedeemStatus
	peekRemaining time.Duration
	peekAlive     bool
}

func (f *fakeService) RequestReset(_ context.Context, email, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, email)
}

func (f *fakeService) Redeem(_ context.Context, _, _, _, _ string) reset.RedeemStatus {
	return f.redeemStatus
}

func (f *fakeService) Peek(_ context.Context, _ string) (time.Duration, bool) {
	return f.peekRemaining, f.peekAlive
}

func newTestRouter(svc *fakeService) http.Handler {
	return NewRouter(NewHandler(svc))
}

const (
	validCredentialID = "2b0e9f1c-6a3d-4c2b-9f1e-8d7c6b5a4f3e"
	validSecret       = "c3VwZXItc2VjcmV0LXZhbHVlLXRoYXQtaXMtbG9uZy1lbm91Z2g"
)

func TestForgot_AlwaysGenericFor200s(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/password/forgot",
		map[string]string{"email": "alice@example.com"}))

	testutil.AssertStatus(t, rr, http.StatusOK)
	body := testutil.UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, genericRequestMessage, (*body)["message"])
	require.Len(t, svc.requested, 1)
	assert.Equal(t, "alice@example.com", svc.requested[0])
}

func TestForgot_MalformedInputIs400(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	cases := map[string]*http.Request{
		"invalid JSON":    testutil.NewRequestWithBody(t, http.MethodPost, "/password/forgot", "{not json"),
		"missing email":   testutil.NewJSONRequest(t, http.MethodPost, "/password/forgot", map[string]string{}),
		"not an address":  testutil.NewJSONRequest(t, http.MethodPost, "/password/forgot", map[string]string{"email": "not-an-email"}),
		"oversized email": testutil.NewJSONRequest(t, http.MethodPost, "/password/forgot", map[string]string{"email": strings.Repeat("a", 250) + "@example.com"}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rr := testutil.DoRequest(router, req)
			testutil.AssertStatus(t, rr, http.StatusBadRequest)
		})
	}
	assert.Empty(t, svc.requested, "malformed input never reaches the orchestrator")
}

func TestRedeem_Terminals(t *testing.T) {
	body := map[string]string{
		"credentialId": validCredentialID,
		"secret":       validSecret,
		"newPassword":  "brand-new-password",
	}

	t.Run("success", func(t *testing.T) {
		router := newTestRouter(&fakeService{redeemStatus: reset.StatusReset})
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/password/reset", body))
		testutil.AssertStatus(t, rr, http.StatusOK)
	})

	t.Run("invalid or expired is a generic 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{redeemStatus: reset.StatusInvalid})
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/password/reset", body))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		resp := testutil.UnmarshalResponse[map[string]string](t, rr)
		assert.Equal(t, "invalid or expired link", (*resp)["error"])
	})

	t.Run("rate limited is 429", func(t *testing.T) {
		router := newTestRouter(&fakeService{redeemStatus: reset.StatusTooManyAttempts})
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/password/reset", body))
		testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
	})
}

func TestRedeem_InputShape(t *testing.T) {
	router := newTestRouter(&fakeService{redeemStatus: reset.StatusReset})

	cases := map[string]map[string]string{
		"bad credential id": {"credentialId": "not-a-uuid", "secret": validSecret, "newPassword": "long-enough"},
		"short secret":      {"credentialId": validCredentialID, "secret": "too-short", "newPassword": "long-enough"},
		"secret bad chars":  {"credentialId": validCredentialID, "secret": strings.Repeat("!", 40), "newPassword": "long-enough"},
		"short password":    {"credentialId": validCredentialID, "secret": validSecret, "newPassword": "short"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/password/reset", body))
			testutil.AssertStatus(t, rr, http.StatusBadRequest)
			resp := testutil.UnmarshalResponse[map[string]string](t, rr)
			assert.Equal(t, "invalid request", (*resp)["error"])
		})
	}
}

func TestPeek(t *testing.T) {
	t.Run("live credential", func(t *testing.T) {
		router := newTestRouter(&fakeService{peekAlive: true, peekRemaining: 9 * time.Minute})
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/password/reset/"+validCredentialID, nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[peekResponse](t, rr)
		assert.True(t, resp.Valid)
		assert.Equal(t, int64(540), resp.ExpiresIn)
	})

	t.Run("dead and malformed ids look identical", func(t *testing.T) {
		router := newTestRouter(&fakeService{peekAlive: false})

		dead := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/password/reset/"+validCredentialID, nil))
		malformed := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/password/reset/junk-id", nil))

		testutil.AssertStatus(t, dead, http.StatusOK)
		testutil.AssertStatus(t, malformed, http.StatusOK)
		assert.Equal(t, dead.Body.String(), malformed.Body.String())
	})
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
}

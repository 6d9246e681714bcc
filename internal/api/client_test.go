package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"finpay-client/internal/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ClientConfig{
		BaseURL:        baseURL,
		Domain:         "demo.finpay.local",
		Latitude:       "12.97",
		Longitude:      "77.59",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestLoginSendsTenantHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)
		w.Write([]byte(`{"success":true,"message":"OTP sent","data":{"otp_sent_to":"99999*****"}}`))
	}))
	defer server.Close()

	dispatch, err := newTestClient(server.URL).Login(context.Background(), "user@x.com", "pass")
	require.NoError(t, err)
	require.Equal(t, "99999*****", dispatch.SentTo)

	require.Equal(t, "demo.finpay.local", gotHeaders.Get("domain"))
	require.Equal(t, "12.97", gotHeaders.Get("latitude"))
	require.Equal(t, "77.59", gotHeaders.Get("longitude"))
	require.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestLoginFallsBackToIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"OTP sent","data":{}}`))
	}))
	defer server.Close()

	dispatch, err := newTestClient(server.URL).Login(context.Background(), "user@x.com", "pass")
	require.NoError(t, err)
	require.Equal(t, "user@x.com", dispatch.SentTo)
}

func TestRejectionCarriesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Login(context.Background(), "user@x.com", "wrong")
	require.Error(t, err)
	require.Equal(t, KindAuthRejected, KindOf(err))
	require.Equal(t, "Invalid credentials", MessageOf(err))
}

func TestMalformedResponseIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Login(context.Background(), "user@x.com", "pass")
	require.Error(t, err)
	require.Equal(t, KindNetwork, KindOf(err))
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").Login(context.Background(), "user@x.com", "pass")
	require.Error(t, err)
	require.Equal(t, KindNetwork, KindOf(err))
	require.Equal(t, "Could not reach the server", MessageOf(err))
}

func TestVerifyOTPLoginIncompletePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify-otp-login", r.URL.Path)
		w.Write([]byte(`{"success":true,"message":"ok","data":{"access_token":""}}`))
	}))
	defer server.Close()

	_, _, err := newTestClient(server.URL).VerifyOTPLogin(context.Background(), "user@x.com", "1234")
	require.Error(t, err)
	require.Equal(t, KindNetwork, KindOf(err))
}

func TestVerifyOTPLoginSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"ok","data":{"access_token":"tok-1","user":{"id":"u-1","full_name":"Demo"}}}`))
	}))
	defer server.Close()

	token, user, err := newTestClient(server.URL).VerifyOTPLogin(context.Background(), "user@x.com", "1234")
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)
	require.Equal(t, "u-1", user.ID)
}

func TestResendWithTokenOmitsDomain(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{"success":true,"message":"resent"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.ResendOTP(context.Background(), "login", "user@x.com", "tok-1"))
	require.Equal(t, "Bearer tok-1", gotHeaders.Get("Authorization"))
	require.Empty(t, gotHeaders.Get("domain"))

	// Without a credential the same call is domain-bearing instead.
	require.NoError(t, client.ResendOTP(context.Background(), "login", "user@x.com", ""))
	require.Empty(t, gotHeaders.Get("Authorization"))
	require.Equal(t, "demo.finpay.local", gotHeaders.Get("domain"))
}

func TestKYCStatusRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"success":true,"message":"ok","data":{"kyc_status":"Approved"}}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).KYCStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.True(t, resp.Success)
	require.Equal(t, "Approved", resp.Data.KYCStatus)
}

func TestKYCStatusDoesNotRetryRejection(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Unauthenticated"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).KYCStatus(context.Background(), "expired")
	require.Error(t, err)
	require.Equal(t, KindAuthRejected, KindOf(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLogoutSendsBearerAndDomain(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.Equal(t, "/logout", r.URL.Path)
		w.Write([]byte(`{"success":true,"message":"bye"}`))
	}))
	defer server.Close()

	require.NoError(t, newTestClient(server.URL).Logout(context.Background(), "tok-1"))
	require.Equal(t, "Bearer tok-1", gotHeaders.Get("Authorization"))
	require.Equal(t, "demo.finpay.local", gotHeaders.Get("domain"))
}

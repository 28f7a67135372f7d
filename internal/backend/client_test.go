package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"invoicechain/internal/backend"
	"invoicechain/pkg/models"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(backend.ClientConfig{BaseURL: srv.URL, Token: token})
	require.NoError(t, err)
	return client
}

func TestDetailSendsBearerAndDecodesEnvelope(t *testing.T) {
	client := newTestClient(t, "jwt-abc", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rwa/invoice/detail", r.URL.Path)
		require.Equal(t, "INV-1001", r.URL.Query().Get("invoice_number"))
		require.Equal(t, "Bearer jwt-abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":[{"id":"a1","invoice_number":"INV-1001","amount":500000000000000000,"status":"PENDING","due_date":1767225600}]}`))
	})

	invoices, err := client.Detail(context.Background(), "INV-1001")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	require.Equal(t, models.Amount("500000000000000000"), invoices[0].Amount)
	require.Equal(t, models.StatusPending, invoices[0].Status)
	require.EqualValues(t, 1767225600, invoices[0].DueDate)
}

func TestApplicationErrorCarriesMessage(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":5001,"msg":"invoice locked","data":null}`))
	})

	err := client.Issue(context.Background(), []string{"a1"})
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 5001, apiErr.Code)
	require.Equal(t, "invoice locked", apiErr.Msg)
	require.Equal(t, "Issue", apiErr.Op)
}

func TestCodeZeroIsSuccess(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"invoice_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"a1", "b2"}, body.IDs)
		_, _ = w.Write([]byte(`{"code":0,"msg":"","data":null}`))
	})

	require.NoError(t, client.Issue(context.Background(), []string{"a1", "b2"}))
}

func TestVerifyReturnsStatus(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "a1", body["id"])
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":{"verified":"VERIFIED"}}`))
	})

	status, err := client.Verify(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "VERIFIED", status)
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, "expired", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.List(context.Background())
	require.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := backend.NewClient(backend.ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.List(context.Background())
	require.True(t, errors.Is(err, backend.ErrTransport))
}

func TestDeleteQuery(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "a1", r.URL.Query().Get("id"))
		require.Equal(t, "INV-1001", r.URL.Query().Get("invoice_number"))
		_, _ = w.Write([]byte(`{"code":200,"msg":"deleted"}`))
	})

	require.NoError(t, client.Delete(context.Background(), "a1", "INV-1001"))
}

func TestLoginFlow(t *testing.T) {
	client := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rwa/user/challenge":
			_, _ = w.Write([]byte(`{"code":200,"data":{"nonce":"sign me","requestId":"req-1"}}`))
		case "/rwa/user/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "req-1", body["requestId"])
			require.Equal(t, "0xsig", body["signature"])
			_, _ = w.Write([]byte(`{"code":200,"data":{"token":"jwt-new","walletAddress":"0xabc"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	challenge, err := client.Challenge(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, "sign me", challenge.Nonce)

	session, err := client.Login(context.Background(), challenge.RequestID, "0xsig")
	require.NoError(t, err)
	require.Equal(t, "jwt-new", session.Token)
}

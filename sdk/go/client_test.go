package projectsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectInvitationSendsReasonAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/invitations/inv-1/reject", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "busy", body["reason"])
		json.NewEncoder(w).Encode(Invitation{ID: "inv-1", Status: "REJECTED", Description: "busy"})
	}))
	defer srv.Close()

	inv, err := New(srv.URL, "tok").RejectInvitation(context.Background(), "inv-1", "busy")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", inv.Status)
}

func TestDeleteStageEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/stages/s1", r.URL.Path)
		assert.Equal(t, "TRANSFER", r.URL.Query().Get("action"))
		assert.Equal(t, "s2", r.URL.Query().Get("transfer_to"))
		assert.Equal(t, "m1", r.Header.Get("X-Member-Id"))
		json.NewEncoder(w).Encode(DeleteResult{StageID: "s1", Action: "TRANSFER", TransferredTo: "s2", TasksAffected: 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.MemberID = "m1"
	res, err := c.DeleteStage(context.Background(), "s1", "TRANSFER", "s2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TasksAffected)
}

func TestAPIErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"conflict","message":"dup"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").SendInvitation(context.Background(), "s1", "m2")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

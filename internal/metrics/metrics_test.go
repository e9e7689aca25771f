package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/reconcile"
)

func TestRecorderCountsEntities(t *testing.T) {
	r := NewRecorder()
	r.EntityProcessed(reconcile.Result{Kind: adldap.KindUser, Outcome: reconcile.OutcomeCreated})
	r.EntityProcessed(reconcile.Result{Kind: adldap.KindUser, Outcome: reconcile.OutcomeUpdated, Relocated: true})
	r.EntityProcessed(reconcile.Result{Kind: adldap.KindUser, Outcome: reconcile.OutcomeUpdated})
	r.EntityProcessed(reconcile.Result{Kind: adldap.KindGroup, Outcome: reconcile.OutcomeFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.entities.WithLabelValues("user", "created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.entities.WithLabelValues("user", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.entities.WithLabelValues("group", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.relocations.WithLabelValues("user")))

	expected := `
# HELP haridsync_relocations_total Entries moved to a different container, by kind.
# TYPE haridsync_relocations_total counter
haridsync_relocations_total{kind="user"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "haridsync_relocations_total"))
}

func TestRecorderRunFinished(t *testing.T) {
	r := NewRecorder()
	started := time.Now().Add(-3 * time.Second)
	report := &reconcile.Report{Started: started, Finished: started.Add(3 * time.Second)}

	r.RunFinished(report, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.duration))
	assert.NotZero(t, testutil.ToFloat64(r.lastSuccess))
	assert.Zero(t, testutil.ToFloat64(r.lastFailure))

	r.RunFinished(nil, errors.New("connection lost"))
	assert.NotZero(t, testutil.ToFloat64(r.lastFailure))

	r.RunFinished(report, nil)
	n, err := testutil.GatherAndCount(r.Registry(),
		"haridsync_last_success_timestamp_seconds", "haridsync_last_failure_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecorderGathersOnlyActualOutcome(t *testing.T) {
	tests := []struct {
		name    string
		runErr  error
		present string
		absent  string
	}{
		{"completed", nil, "haridsync_last_success_timestamp_seconds", "haridsync_last_failure_timestamp_seconds"},
		{"aborted", errors.New("connection lost"), "haridsync_last_failure_timestamp_seconds", "haridsync_last_success_timestamp_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder()
			r.RunFinished(nil, tt.runErr)

			n, err := testutil.GatherAndCount(r.Registry(), tt.present)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = testutil.GatherAndCount(r.Registry(), tt.absent)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRecorderSnapshotFetched(t *testing.T) {
	r := NewRecorder()
	r.SnapshotFetched(map[string]any{"users": 12, "groups": 3, "bogus": "x"})

	assert.Equal(t, 12.0, testutil.ToFloat64(r.snapshot.WithLabelValues("users")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.snapshot.WithLabelValues("groups")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.snapshot))
}

func TestPusher(t *testing.T) {
	var (
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method = req.Method
		path = req.URL.Path
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.EntityProcessed(reconcile.Result{Kind: adldap.KindUser, Outcome: reconcile.OutcomeCreated})

	p := &Pusher{URL: srv.URL, Job: "haridsync"}
	require.NoError(t, p.Push(context.Background(), r.Registry(), "school1"))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/metrics/job/haridsync/instance/school1", path)
	assert.NotEmpty(t, body)
}

func TestPusherAbortedRunKeepsLastSuccess(t *testing.T) {
	var (
		method string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method = req.Method
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.RunFinished(nil, errors.New("connection lost"))

	p := &Pusher{URL: srv.URL, Job: "haridsync"}
	require.NoError(t, p.Push(context.Background(), r.Registry(), "school1"))

	assert.Equal(t, http.MethodPost, method)
	assert.Contains(t, body, "haridsync_last_failure_timestamp_seconds")
	assert.NotContains(t, body, "haridsync_last_success_timestamp_seconds")
}

func TestPusherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &Pusher{URL: srv.URL, Job: "haridsync"}
	err := p.Push(context.Background(), NewRecorder().Registry(), "")
	assert.ErrorContains(t, err, "failed to push metrics")
}

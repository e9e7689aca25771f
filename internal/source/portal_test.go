package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortalURL(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		version    int
		collection string
		want       string
	}{
		{name: "v2 users", host: "harid.example.com", version: 2, collection: CollectionUsers, want: "https://harid.example.com/api/v2/ad_users.json"},
		{name: "v2 deleted groups", host: "harid.example.com", version: 2, collection: CollectionDeletedGroups, want: "https://harid.example.com/api/v2/deleted_ad_groups.json"},
		{name: "v1 deleted users", host: "https://box.example.com/", version: 1, collection: CollectionDeletedUsers, want: "https://box.example.com/api/v1/deleted_users.json"},
		{name: "default version", host: "harid.example.com", collection: CollectionGroups, want: "https://harid.example.com/api/v2/ad_groups.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPortalFetcher(PortalConfig{Host: tt.host, APIVersion: tt.version}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.URL(tt.collection))
		})
	}
}

func TestNewPortalFetcherValidation(t *testing.T) {
	_, err := NewPortalFetcher(PortalConfig{}, nil)
	assert.Error(t, err)

	_, err = NewPortalFetcher(PortalConfig{Host: "harid.example.com", APIVersion: 3}, nil)
	assert.Error(t, err)

	_, err = NewPortalFetcher(PortalConfig{Host: "harid.example.com", CACertFile: "/nonexistent/ca.pem"}, nil)
	assert.Error(t, err)
}

func TestPortalSnapshot(t *testing.T) {
	bodies := map[string]string{
		"/api/v2/ad_users.json":          `[{"uid": "jdoe", "uid_number": 1042}]`,
		"/api/v2/ad_groups.json":         `[{"name": "staff"}]`,
		"/api/v2/deleted_ad_users.json":  `[]`,
		"/api/v2/deleted_ad_groups.json": `[{"name": "old", "gid_number": 5001}]`,
	}

	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		requested = append(requested, r.URL.Path)
		body, found := bodies[r.URL.Path]
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	p, err := NewPortalFetcher(PortalConfig{Host: srv.URL, Username: "api", Secret: "s3cret"}, nil)
	require.NoError(t, err)

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/api/v2/ad_users.json",
		"/api/v2/ad_groups.json",
		"/api/v2/deleted_ad_users.json",
		"/api/v2/deleted_ad_groups.json",
	}, requested)
	assert.Len(t, snap.Users, 1)
	assert.Len(t, snap.Groups, 1)
	assert.Empty(t, snap.DeletedUsers)
	assert.Len(t, snap.DeletedGroups, 1)
}

func TestPortalErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("box key mismatch\n"))
	}))
	defer srv.Close()

	p, err := NewPortalFetcher(PortalConfig{Host: srv.URL, Username: "api", Secret: "wrong"}, nil)
	require.NoError(t, err)

	_, err = p.Snapshot(context.Background())
	require.Error(t, err)

	var portalErr *PortalError
	require.True(t, errors.As(err, &portalErr))
	assert.Equal(t, http.StatusForbidden, portalErr.StatusCode)
	assert.Equal(t, "box key mismatch", portalErr.Body)
	assert.Contains(t, err.Error(), "ad_users.json")
}

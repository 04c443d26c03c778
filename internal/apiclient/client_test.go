package apiclient_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familydiary/diary/internal/apiclient"
	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/identity"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/session"
)

type noRefresh struct{}

func (noRefresh) InitiateAuth(context.Context, string, string) (identity.Outcome, error) {
	return identity.Outcome{}, identity.ErrNotAuthorized
}

func (noRefresh) RespondToNewPasswordChallenge(context.Context, string, string, string) (identity.AuthResult, error) {
	return identity.AuthResult{}, identity.ErrChallengeRejected
}

func (noRefresh) Refresh(context.Context, string) (identity.AuthResult, error) {
	return identity.AuthResult{}, identity.ErrNotAuthorized
}

func signedIn(t *testing.T, token string) (*session.Manager, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(session.KeyAuthToken, token))
	require.NoError(t, store.Set(session.KeyRefreshToken, "refresh"))
	require.NoError(t, store.Set(session.KeyUserID, "user#haru"))
	require.NoError(t, store.Set(session.KeyExpiresAt, strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)))
	return session.NewManager(noRefresh{}, store), store
}

func TestCallAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	mgr, _ := signedIn(t, "tok-1")
	client := apiclient.New(srv.URL+"/", mgr, apiclient.WithHTTPClient(srv.Client()))

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestCallWithoutSessionIsUnauthenticated(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	mgr := session.NewManager(noRefresh{}, session.NewMemoryStore())
	client := apiclient.New(srv.URL, mgr, apiclient.WithHTTPClient(srv.Client()))

	_, err := client.Call(context.Background(), http.MethodGet, "health", nil)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestUnauthorizedForcesSignOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token revoked"}`))
	}))
	defer srv.Close()

	mgr, store := signedIn(t, "tok-1")
	require.True(t, mgr.IsAuthenticated())

	redirected := 0
	client := apiclient.New(srv.URL, mgr,
		apiclient.WithHTTPClient(srv.Client()),
		apiclient.WithRedirector(apiclient.RedirectFunc(func(context.Context) { redirected++ })),
	)

	_, err := client.GetEntry(context.Background(), entrykey.Key{Date: "2024-03-01", Visibility: entrykey.Public})
	assert.ErrorIs(t, err, apiclient.ErrAuthorizationExpired)
	assert.Equal(t, 1, redirected)
	assert.False(t, mgr.IsAuthenticated())
	assert.Zero(t, store.Len(), "all four session fields are cleared")
}

func TestAPIErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		want        string
	}{
		{name: "json error field", contentType: "application/json", body: `{"error":"entry not found"}`, status: 404, want: "entry not found"},
		{name: "json detail field", contentType: "application/json; charset=utf-8", body: `{"detail":"bad month"}`, status: 400, want: "bad month"},
		{name: "json without message", contentType: "application/json", body: `{}`, status: 500, want: "API error: 500"},
		{name: "plain text", contentType: "text/plain", body: "upstream timeout\n", status: 504, want: "upstream timeout"},
		{name: "empty body", contentType: "text/plain", body: "", status: 502, want: "API error: 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			mgr, _ := signedIn(t, "tok")
			client := apiclient.New(srv.URL, mgr, apiclient.WithHTTPClient(srv.Client()))

			_, err := client.Call(context.Background(), http.MethodGet, "/diary/2024-03-01-public", nil)
			var apiErr *apiclient.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.True(t, mgr.IsAuthenticated(), "non-401 errors keep the session")
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	mgr, _ := signedIn(t, "tok")
	client := apiclient.New(url, mgr)

	_, err := client.Health(context.Background())
	var netErr *apiclient.NetworkError
	require.ErrorAs(t, err, &netErr)
	var apiErr *apiclient.APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.True(t, mgr.IsAuthenticated())
}

func TestEntryOperations(t *testing.T) {
	var saved models.EntryInput
	var photo models.PhotoUpload
	var deletedPath string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /diary/{key}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
		_ = json.NewEncoder(w).Encode(models.DiaryEntry{OwnerID: "user#haru", RecordKey: r.PathValue("key"), Text: saved.Text, IsPublic: *saved.IsPublic})
	})
	mux.HandleFunc("DELETE /diary/{key}", func(w http.ResponseWriter, r *http.Request) {
		deletedPath = r.URL.Path
		_, _ = w.Write([]byte(`{"message":"deleted"}`))
	})
	mux.HandleFunc("POST /diary/{key}/photo", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&photo))
		_ = json.NewEncoder(w).Encode(models.PhotoUploaded{PhotoURL: "https://photos.example/" + r.PathValue("key")})
	})
	mux.HandleFunc("GET /my/calendar/{year}/{month}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.CalendarPage{Year: 2024, Month: 3, Entries: []models.DiaryEntry{{RecordKey: "2024-03-01-private"}}})
	})
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.DailyPrompt{Date: r.URL.Query().Get("date"), Prompt: "What made you laugh today?"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, _ := signedIn(t, "tok")
	client := apiclient.New(srv.URL, mgr, apiclient.WithHTTPClient(srv.Client()))
	ctx := context.Background()
	key := entrykey.Key{Date: "2024-03-01", Visibility: entrykey.Private}

	entry, err := client.SaveEntry(ctx, key, "B", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01-private", entry.RecordKey)
	require.NotNil(t, saved.IsPublic)
	assert.False(t, *saved.IsPublic)

	url, err := client.UploadPhoto(ctx, key, []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.Equal(t, "https://photos.example/2024-03-01-private", url)
	raw, err := base64.StdEncoding.DecodeString(photo.Image)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, raw)

	require.NoError(t, client.DeleteEntry(ctx, key))
	assert.Equal(t, "/diary/2024-03-01-private", deletedPath)

	page, err := client.MyCalendar(ctx, 2024, 3)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)

	prompt, err := client.Prompt(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", prompt.Date)
}

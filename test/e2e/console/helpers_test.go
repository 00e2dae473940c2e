//go:build e2e

package console_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/app"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Helpers for the console end-to-end tests. The identity backend is the
 * Firebase Auth Emulator in a container; the application backend is a
 * small in-process fake answering /users/me.
 */

const (
	emulatorImage = "andreysenov/firebase-tools:latest"
	projectID     = "demo-vulntab"
	apiKey        = "fake-api-key"

	userEmail    = "analyst@example.com"
	userPassword = "Analyst123!"
)

const firebaseJSON = `{"emulators":{"auth":{"host":"0.0.0.0","port":9099}}}`

// setupEmulator starts the Auth Emulator and returns its host:port.
func setupEmulator(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        emulatorImage,
		ExposedPorts: []string{"9099/tcp"},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(firebaseJSON),
			ContainerFilePath: "/home/node/firebase.json",
			FileMode:          0o644,
		}},
		WorkingDir: "/home/node",
		Cmd:        []string{"firebase", "emulators:start", "--only", "auth", "--project", projectID},
		WaitingFor: wait.ForHTTP("/").WithPort("9099/tcp").WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9099")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

// newBackend answers GET /users/me for any bearer token carrying an email.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := jwtx.ParseUnverified(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil || r.URL.Path != "/users/me" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(apisdk.User{UserID: "u-1", UID: claims.Subject, Email: claims.Email})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newConsole builds the console against the emulator and the fake backend.
func newConsole(t *testing.T, emulatorHost string) *app.Application {
	t.Helper()

	cfg := app.Config{
		IdentityBackend:      app.BackendFirebase,
		FirebaseAPIKey:       apiKey,
		FirebaseProjectID:    projectID,
		FirebaseEmulatorHost: emulatorHost,
		APIURL:               newBackend(t).URL,
		PublicURL:            "http://127.0.0.1:5173",
		CookieName:           "token",
		ResendCooldown:       30 * time.Second,
		StoreDriver:          app.DriverSQLite,
		DatabaseFile:         filepath.Join(t.TempDir(), "console.db"),
		ListenAddr:           "127.0.0.1:0",
		Env:                  "test",
		LogLevel:             "warn",
		LogFormat:            "json",
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}

	application, err := app.New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })
	require.NoError(t, application.Start(t.Context()))
	return application
}

// signUp creates an account directly on the emulator.
func signUp(t *testing.T, emulatorHost, email, password string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"email": email, "password": password, "returnSecureToken": true})
	require.NoError(t, err)

	resp, err := http.Post(
		"http://"+emulatorHost+"/identitytoolkit.googleapis.com/v1/accounts:signUp?key="+apiKey,
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type oobCode struct {
	Email       string `json:"email"`
	OobCode     string `json:"oobCode"`
	OobLink     string `json:"oobLink"`
	RequestType string `json:"requestType"`
}

// latestOobCode returns the newest emailed action code of the given type.
func latestOobCode(t *testing.T, emulatorHost, email, requestType string) oobCode {
	t.Helper()
	resp, err := http.Get("http://" + emulatorHost + "/emulator/v1/projects/" + projectID + "/oobCodes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		OobCodes []oobCode `json:"oobCodes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	for i := len(out.OobCodes) - 1; i >= 0; i-- {
		c := out.OobCodes[i]
		if c.Email == email && c.RequestType == requestType {
			return c
		}
	}
	t.Fatalf("no %s code for %s", requestType, email)
	return oobCode{}
}

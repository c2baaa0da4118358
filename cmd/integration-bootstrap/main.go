// Command integration-bootstrap obtains OAuth tokens for the E2E suite and
// writes them to .testdata/ so live tests never touch a developer's own
// credential file.
//
// Usage: go run ./cmd/integration-bootstrap
//
// Reads SNATTACH_INSTANCE_URL, SNATTACH_USERNAME, SNATTACH_PASSWORD,
// SNATTACH_TEST_CLIENT_ID and SNATTACH_TEST_CLIENT_SECRET from the
// environment or the module's .env file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/credstore"
	"github.com/tonimelisma/snattach/testutil"
)

const requestTimeout = 30 * time.Second

func main() {
	moduleRoot := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))

	instance := testutil.ValidateAllowlist("SNATTACH_INSTANCE_URL")
	username := testutil.RequireEnv("SNATTACH_USERNAME")
	password := testutil.RequireEnv("SNATTACH_PASSWORD")
	client := auth.ClientCredentials{
		ID:     testutil.RequireEnv("SNATTACH_TEST_CLIENT_ID"),
		Secret: testutil.RequireEnv("SNATTACH_TEST_CLIENT_SECRET"),
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	provider := auth.NewProvider(instance, &http.Client{Timeout: requestTimeout}, logger)

	pair, err := provider.AcquireInitial(ctx, username, password, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	path := filepath.Join(moduleRoot, testutil.CredentialDir, testutil.CredentialFileName)
	store := credstore.New(path, logger)

	err = store.Save(credstore.Credentials{
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Username:     username,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "saving credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Login successful. Credentials saved to %s.\n", path)
}

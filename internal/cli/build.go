package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/familydiary/diary/internal/apiclient"
	"github.com/familydiary/diary/internal/config"
	"github.com/familydiary/diary/internal/identity"
	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/session"
)

// Build wires an Env from the client configuration. The returned close
// function releases the session store.
func Build(ctx context.Context, cfg config.ClientConfig, stdin io.Reader, stdout, stderr io.Writer) (*Env, func() error, error) {
	logger := logging.NewText(stderr, cfg.LogLevel)
	closer := func() error { return nil }

	var store session.Store
	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store = session.NewRedisStore(client, cfg.Profile)
		closer = client.Close
	} else {
		fileStore, err := session.NewFileStore(cfg.TokenFile)
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
	}
	store = session.NewLoggingStore(store, logger)

	httpClient := &http.Client{Timeout: cfg.Timeout}

	var provider identity.Provider
	switch cfg.IdentityMode {
	case config.IdentityCognito:
		cognito, err := identity.NewCognitoProvider(ctx, cfg.CognitoRegion, cfg.CognitoClientID)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("cognito provider: %w", err)
		}
		provider = cognito
	default:
		provider = identity.NewHTTPProvider(cfg.APIEndpoint, httpClient)
	}

	manager := session.NewManager(provider, store, session.WithLogger(logger))
	api := apiclient.New(cfg.APIEndpoint, manager,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithLogger(logger),
		apiclient.WithRedirector(apiclient.RedirectFunc(func(context.Context) {
			fmt.Fprintln(stderr, "signed out: the API rejected the stored token")
		})),
	)

	return &Env{
		Sessions: manager,
		API:      api,
		Stdin:    stdin,
		Stdout:   stdout,
	}, closer, nil
}

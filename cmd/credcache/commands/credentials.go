package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/term"

	"github.com/florianilch/credcache/internal/app"
	"github.com/florianilch/credcache/internal/tokenstore"
)

var (
	errCredentialNotFound = errors.New("no credential stored")
	errStoreUnavailable   = errors.New("credential storage is not available")
)

func pathCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "path",
		Usage: "print the location of the credential cache file",
		Action: r.action(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			path, ok := application.CacheFilePath(ctx)
			if !ok {
				return tokenstore.ErrDirectoryUnresolved
			}
			_, err := fmt.Fprintln(cmd.Root().Writer, path)
			return err
		}),
	}
}

func readCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "print the token stored under KEY",
		ArgsUsage: "KEY",
		Action: r.action(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			key, err := keyArg(cmd)
			if err != nil {
				return err
			}

			res := application.Store().Read(ctx, key)
			switch res.Status {
			case tokenstore.StatusOK:
				_, err := fmt.Fprintln(cmd.Root().Writer, res.Value)
				return err
			case tokenstore.StatusFailed:
				return fmt.Errorf("reading %s: %w", key, res.Err)
			default:
				return fmt.Errorf("%w for %s", errCredentialNotFound, key)
			}
		}),
	}
}

func writeCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "store a token under KEY, read from the terminal or stdin when VALUE is omitted",
		ArgsUsage: "KEY [VALUE]",
		Action: r.action(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			key, err := keyArg(cmd)
			if err != nil {
				return err
			}

			value := cmd.Args().Get(1)
			if cmd.NArg() < 2 {
				value, err = readSecret(cmd.Root().Reader, cmd.Root().ErrWriter, "Token: ")
				if err != nil {
					return err
				}
			}

			res := application.Store().Write(ctx, key, value)
			switch res.Status {
			case tokenstore.StatusOK:
				return nil
			case tokenstore.StatusFailed:
				return fmt.Errorf("writing %s: %w", key, res.Err)
			default:
				return errStoreUnavailable
			}
		}),
	}
}

func removeCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "forget the token stored under KEY",
		ArgsUsage: "KEY",
		Action: r.action(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			key, err := keyArg(cmd)
			if err != nil {
				return err
			}

			// Removing a missing credential is not an error
			if res := application.Store().Remove(ctx, key); res.Status == tokenstore.StatusFailed {
				return fmt.Errorf("removing %s: %w", key, res.Err)
			}
			return nil
		}),
	}
}

func tokenCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print an OAuth2 client credentials access token, cached until it expires",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "token-url",
				Usage:    "OAuth2 token endpoint",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "client-id",
				Usage:    "OAuth2 client ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "client-secret",
				Usage:   "OAuth2 client secret (prompted for when unset)",
				Sources: cli.EnvVars("CREDCACHE_CLIENT_SECRET"),
			},
			&cli.StringSliceFlag{
				Name:  "scope",
				Usage: "requested scope, may be repeated",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "cache key (default: HOST:CLIENT_ID:OAUTH_ACCESS_TOKEN)",
			},
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "ignore the cached token",
			},
		},
		Action: r.action(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			tokenURL, err := url.Parse(cmd.String("token-url"))
			if err != nil {
				return fmt.Errorf("invalid token URL: %w", err)
			}

			secret := cmd.String("client-secret")
			if secret == "" {
				secret, err = readSecret(cmd.Root().Reader, cmd.Root().ErrWriter, "Client secret: ")
				if err != nil {
					return err
				}
			}

			key := cmd.String("key")
			if key == "" {
				key = tokenCacheKey(tokenURL, cmd.String("client-id"), cmd.StringSlice("scope"))
			}

			conf := &clientcredentials.Config{
				ClientID:     cmd.String("client-id"),
				ClientSecret: secret,
				TokenURL:     tokenURL.String(),
				Scopes:       cmd.StringSlice("scope"),
			}
			tokenSource, err := app.NewCachedTokenSource(conf.TokenSource(ctx), application.Store(), key)
			if err != nil {
				return err
			}
			if cmd.Bool("refresh") {
				tokenSource.Invalidate(ctx)
			}

			token, err := tokenSource.Token()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, token.AccessToken)
			return err
		}),
	}
}

// tokenCacheKey derives the cache key for a client-credentials token. Requested
// scopes are part of the key so tokens for different scope sets never mix.
func tokenCacheKey(tokenURL *url.URL, clientID string, scopes []string) string {
	key := tokenstore.Key(tokenURL.Host, clientID, tokenstore.CredentialTypeOAuthAccess)
	if len(scopes) == 0 {
		return key
	}
	sorted := slices.Compact(slices.Sorted(slices.Values(scopes)))
	return key + ":" + strings.Join(sorted, ",")
}

func keyArg(cmd *cli.Command) (string, error) {
	key := cmd.Args().First()
	if key == "" {
		return "", errors.New("missing KEY argument")
	}
	return key, nil
}

// readSecret reads a secret without echo when r is a terminal, otherwise the
// whole input with one trailing newline removed.
func readSecret(r io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading from terminal: %w", err)
		}
		return string(secret), nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading from stdin: %w", err)
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	if len(data) == 0 {
		return "", errors.New("no value given")
	}
	return string(data), nil
}

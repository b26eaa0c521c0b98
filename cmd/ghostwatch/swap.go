package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/errors"
)

type swapResult struct {
	Version uint32 `json:"version"`
	Digest  string `json:"digest"`
	Size    int    `json:"size"`
}

func swapCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "swap <dictionary-file>",
		Short: "Hot-swap the dictionary on a running server",
		Long: `Upload a dictionary to PUT /admin/dictionary. Connected clients are told
about the new version and switch to it without reconnecting.

The token defaults to GHOSTWATCH_ADMIN_TOKEN.

Examples:
  ghostwatch swap v2.dict --token secret
  ghostwatch swap v2.dict --server https://ghost.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("GHOSTWATCH_ADMIN_TOKEN")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.New("E101").Wrap(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			res, err := uploadDictionary(ctx, http.DefaultClient, serverURL, token, data)
			if err != nil {
				return err
			}
			success("Swapped to dictionary v%d", res.Version)
			info("digest: %s", res.Digest)
			info("size:   %d bytes", res.Size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Admin bearer token")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	return cmd
}

// uploadDictionary PUTs data to the admin route and decodes the result.
func uploadDictionary(ctx context.Context, hc *http.Client, base, token string, data []byte) (*swapResult, error) {
	url := strings.TrimRight(base, "/") + "/admin/dictionary"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("E141").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.New("E132").Wrap(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.New("E131")
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New("E131").
			WithDetail("The server does not expose /admin/dictionary.").
			WithSuggestion("Start the server with --admin-token or GHOSTWATCH_ADMIN_TOKEN")
	case resp.StatusCode >= 500:
		return nil, errors.New("E130").WithDetail(fmt.Sprintf("server error %d: %s", resp.StatusCode, msg))
	default:
		return nil, errors.New("E130").WithDetail(fmt.Sprintf("%d: %s", resp.StatusCode, msg))
	}

	var res swapResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.New("E130").Wrap(err)
	}
	return &res, nil
}

// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	originTimeout = 5 * time.Second
	// originMaxBody caps playlist and init segment bodies.
	originMaxBody = 16 << 20
)

// originClient fetches playlists and init segments from the origin packager.
type originClient struct {
	client *http.Client
}

func newOriginClient() *originClient {
	return &originClient{client: &http.Client{Timeout: originTimeout}}
}

// Fetch gets a resource from the origin with the 5 s origin deadline.
func (c *originClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, originTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newErrOriginStatus(url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, originMaxBody))
	if err != nil {
		return nil, fmt.Errorf("origin read: %w", err)
	}
	return body, nil
}

// FetchPlaylist gets a playlist body as text.
func (c *originClient) FetchPlaylist(ctx context.Context, url string) (string, error) {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

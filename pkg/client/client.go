// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package client

import (
	"context"
	"log/slog"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
)

// Client sends commands to an engine running in the same process.
// Every command validates its shape before the engine is touched.
type Client struct {
	engine *bpmn.Engine
	logger Logger
}

func New(engine *bpmn.Engine) *Client {
	return &Client{
		engine: engine,
		logger: &DefLogger{
			logger: slog.Default(),
		},
	}
}

func (c *Client) WithLogger(logger Logger) *Client {
	c.logger = logger
	return c
}

func (c *Client) Engine() *bpmn.Engine {
	return c.engine
}

// send runs the command in its own goroutine. The command keeps the values of ctx but not its cancellation,
// abandoning the future never cancels the command itself.
func send[T any](ctx context.Context, cmd func(ctx context.Context) (T, error)) *Future[T] {
	future := newFuture[T]()
	go func() {
		future.fulfill(cmd(context.WithoutCancel(ctx)))
	}()
	return future
}

// Package node describes a process that exposes an admin HTTP surface.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 2 * time.Second

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// ServeHTTP serves n's router on addr until ctx ends.
func ServeHTTP(ctx context.Context, n Node, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           n.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("node", n.NodeID()).Str("kind", n.Kind()).Str("addr", addr).Msg("node: admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

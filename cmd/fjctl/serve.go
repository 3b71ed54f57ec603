package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"github.com/thesues/flashjournal/storage"
	"github.com/urfave/cli"
)

const requestTimeout = 30 * time.Second

func statusOf(err error) int {
	switch errors.Cause(err) {
	case internalerror.BoundedCapacity:
		return http.StatusRequestEntityTooLarge
	case internalerror.SmallRequest, internalerror.InvalidParameter:
		return http.StatusBadRequest
	case internalerror.Lifecycle:
		return http.StatusConflict
	case context.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newRouter(store *storage.Storage, staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/blob", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		data, err := store.Get(ctx)
		if err != nil {
			c.String(statusOf(err), err.Error())
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", data)
	})

	r.PUT("/blob", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		n, err := store.Put(ctx, c.Request.Body)
		if err != nil {
			logrus.Warnf("put failed: %v", err)
			c.String(statusOf(err), err.Error())
			return
		}
		info := store.Info()
		c.JSON(http.StatusOK, gin.H{
			"size":       n,
			"slot":       info.CurrentSlot,
			"generation": info.Generation,
		})
	})

	r.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, store.Info())
	})

	r.GET("/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, store.History())
	})

	r.POST("/reset", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		if err := store.Reset(ctx); err != nil {
			c.String(statusOf(err), err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/metrics", gin.WrapH(metrics.PrometheusHandler))

	if staticDir != "" {
		r.Use(static.Serve("/static", static.LocalFile(staticDir, false)))
	}
	return r
}

// shutdown waits up to timeout for in-flight requests.
func shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		logrus.Warnf("shutdown failed: %v", err)
	}
	return err
}

func serveImage(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    c.String("addr"),
		Handler: newRouter(store, c.String("static")),
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sc
		logrus.Infof("got signal [%v], shutting down", sig)
		shutdown(srv, 5*time.Second)
	}()

	logrus.Infof("serving %s on %s", c.GlobalString("device"), srv.Addr)
	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

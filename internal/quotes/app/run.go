package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drcrypt.com/internal/quotes/writer"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/safe"
)

// Run 阻塞直到 ctx 取消（或 HTTP / feed 出错），然后按顺序优雅退出：
//
//	1. 停 feed（断开上游，不再产生新 tick）
//	2. HTTP 停止接新连接
//	3. writer 在宽限期内写完队列
//	4. 关闭所有 ws 连接
//	5. 关闭存储 / broker 等外部连接
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.closeAll()
		return err
	}
	a.addr.Store(ln.Addr().String())

	a.writer.Start()

	feedCtx, stopFeeds := context.WithCancel(context.Background())
	defer stopFeeds()
	a.limiter.StartJanitor(feedCtx, time.Minute)

	feeds, fctx := errgroup.WithContext(feedCtx)
	for _, r := range a.runners {
		feeds.Go(func() error {
			r.Run(fctx)
			return nil
		})
	}
	if a.gateway != nil {
		feeds.Go(func() error {
			if err := a.gateway.Run(fctx); err != nil {
				return err
			}
			if fctx.Err() == nil {
				return errFeedsStopped
			}
			return nil
		})
	}
	feedsDone := make(chan error, 1)
	safe.Go("app.feeds", func() { feedsDone <- feeds.Wait() })

	a.httpSrv = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	srvErr := make(chan error, 1)
	safe.Go("app.http", func() {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	})
	close(a.ready)
	logger.Info(ctx, "pricefeed started",
		zap.String("addr", a.Addr()),
		zap.Strings("symbols", a.cfg.Feed.Symbols),
		zap.Bool("feed", a.cfg.Feed.Enabled),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.String("broker", a.cfg.Broker.Driver),
	)

	var runErr error
	feedsFinished := false
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		runErr = err
	case err := <-feedsDone:
		feedsFinished = true
		runErr = err
	}
	if runErr != nil {
		logger.Error(ctx, "pricefeed stopping on error", zap.Error(runErr))
	}

	return errors.Join(runErr, a.shutdown(stopFeeds, feedsDone, feedsFinished))
}

func (a *App) shutdown(stopFeeds context.CancelFunc, feedsDone <-chan error, feedsFinished bool) error {
	bg := context.Background()
	grace := a.cfg.Shutdown.Grace

	stopFeeds()
	if !feedsFinished {
		<-feedsDone
	}
	logger.Info(bg, "feeds stopped")

	var errs []error
	hctx, cancel := context.WithTimeout(bg, grace)
	if err := a.httpSrv.Shutdown(hctx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	wctx, cancel := context.WithTimeout(bg, grace)
	err := a.writer.Close(wctx)
	cancel()
	st := a.writer.Stats()
	fields := []zap.Field{
		zap.Uint64("written", st.Written),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("failed", st.Failed),
		zap.Uint64("abandoned", st.Abandoned),
	}
	if errors.Is(err, writer.ErrAbandoned) {
		logger.Warn(bg, "writer closed with abandoned ticks", fields...)
	} else {
		logger.Info(bg, "writer drained", fields...)
	}

	a.hub.CloseAll()
	a.closeAll()
	logger.Info(bg, "pricefeed stopped")
	return errors.Join(errs...)
}

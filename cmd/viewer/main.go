package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"drcrypt.com/internal/quotes/viewer"
	"drcrypt.com/internal/quotes/ws"
	"drcrypt.com/pkg/logger"
)

// 终端看盘：打印实时价格和连接状态
func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "pricefeed websocket endpoint")
	symbols := flag.String("symbols", "", "comma separated symbols, empty for all")
	retry := flag.Duration("retry", viewer.DefaultRetryDelay, "reconnect delay")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	logger.InitWithFile("viewer", *level, os.DevNull)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := viewer.New(*url)
	c.RetryDelay = *retry
	if *symbols != "" {
		c.Symbols = strings.Split(*symbols, ",")
	}
	c.Connect(ctx)
	defer c.Close()

	states := c.States()
	ticks := c.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			switch s {
			case viewer.Disconnected:
				fmt.Printf("%s  -- disconnected, reconnecting in %s\n", time.Now().Format(time.TimeOnly), c.RetryDelay)
			default:
				fmt.Printf("%s  -- %s\n", time.Now().Format(time.TimeOnly), s)
			}
		case t, ok := <-ticks:
			if !ok {
				return
			}
			fmt.Printf("%s  %-10s %s\n", ws.FormatTime(t.Time), t.Symbol, t.Price.String())
		}
	}
}

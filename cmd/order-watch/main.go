// cmd/order-watch/main.go
//
// order-watch 是一个终端版的订单详情页：拉取订单、驱动倒计时、
// 消费实时事件，并可以在指定延迟后发起取消。主要用于联调和演示
// 客户端对账行为。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brasa/internal/pkg/logger"
	"brasa/internal/service/order/domain"
	"brasa/internal/watch"
)

func main() {
	var (
		apiURL      = flag.String("api", "http://localhost:8080", "order service base URL")
		gatewayURL  = flag.String("gateway", "ws://localhost:8088/ws", "push gateway websocket URL")
		sessionTok  = flag.String("session", os.Getenv("BRASA_SESSION"), "user session token")
		orderID     = flag.String("order", "", "order id to watch")
		cancelAfter = flag.Duration("cancel-after", 0, "cancel the order after this duration (0 = never)")
	)
	flag.Parse()

	if *orderID == "" || *sessionTok == "" {
		fmt.Fprintln(os.Stderr, "both -order and -session (or BRASA_SESSION) are required")
		flag.Usage()
		os.Exit(2)
	}

	logger.Init("order-watch")

	client := watch.NewClient(*apiURL, *sessionTok)
	source := watch.NewWSSource(client, *gatewayURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := watch.New(*orderID, client, source, watch.Hooks{
		OnGate: func(gate domain.Gate, order *domain.Order) {
			fmt.Printf("\r%s  status=%-9s payment=%-10s remaining=%3ds canAct=%-5v",
				time.Now().Format("15:04:05"),
				order.Status, order.PaymentStatus,
				int(gate.Remaining/time.Second), gate.CanAct)
		},
		OnCancelled: func(order *domain.Order) {
			fmt.Printf("\norder %s cancelled, refund is on its way\n", *orderID)
		},
		OnReload: func() {
			fmt.Println("\na new order appeared, refresh the order list")
		},
	})

	if *cancelAfter > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*cancelAfter):
			}
			outcome, err := watcher.Cancel(ctx)
			if err != nil {
				fmt.Printf("\ncancel failed: %v\n", err)
				return
			}
			fmt.Printf("\ncancel accepted: refund %s, about %d day(s) to settle\n",
				outcome.RefundRef, outcome.SettlementDays)
		}()
	}

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Logger().Fatal().Err(err).Msg("watch loop failed")
	}
}

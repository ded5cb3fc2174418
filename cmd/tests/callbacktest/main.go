package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/portfoliodash/payserver/internal/callbacks"
	"github.com/portfoliodash/payserver/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (environment is applied on top)")
	orderID := flag.String("order", "order_callback_test", "order id used in the synthetic event")
	paymentID := flag.String("payment", "pay_callback_test", "payment id used in the synthetic event")
	amount := flag.Int64("amount", 100, "amount in the smallest currency unit")
	currency := flag.String("currency", "INR", "currency of the synthetic event")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.PaymentSuccessURL == "" {
		log.Fatalf("callbacks.payment_success_url is not configured")
	}

	event := callbacks.PaymentEvent{
		OrderID:    *orderID,
		PaymentID:  *paymentID,
		Amount:     *amount,
		Currency:   *currency,
		Source:     "checkout",
		VerifiedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := callbacks.SendOnce(ctx, cfg.Callbacks, event); err != nil {
		log.Fatalf("send callback: %v", err)
	}

	fmt.Println("callback delivered to", cfg.Callbacks.PaymentSuccessURL)
}

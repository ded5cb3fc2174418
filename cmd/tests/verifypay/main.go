package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/portfoliodash/payserver/internal/razorpay"
)

// verifypay signs an order/payment pair with RAZORPAY_KEY_SECRET and, when
// -url is given, posts it to a running server's verify-payment endpoint.
func main() {
	orderID := flag.String("order", "order_test_0001", "razorpay order id")
	paymentID := flag.String("payment", "pay_test_0001", "razorpay payment id")
	url := flag.String("url", "", "verify-payment endpoint, e.g. http://localhost:8080/api/verify-payment")
	tamper := flag.Bool("tamper", false, "flip the last signature character to exercise the failure path")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("RAZORPAY_KEY_SECRET")
	if secret == "" {
		log.Fatal("RAZORPAY_KEY_SECRET is not set")
	}

	signature := razorpay.Sign(*orderID, *paymentID, []byte(secret))
	if *tamper {
		last := signature[len(signature)-1]
		flipped := byte('0')
		if last == '0' {
			flipped = '1'
		}
		signature = signature[:len(signature)-1] + string(flipped)
	}

	if *url == "" {
		fmt.Println(signature)
		return
	}

	payload, err := json.Marshal(map[string]string{
		"razorpay_order_id":   *orderID,
		"razorpay_payment_id": *paymentID,
		"razorpay_signature":  signature,
	})
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(*url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d %s\n", resp.StatusCode, bytes.TrimSpace(body))
}

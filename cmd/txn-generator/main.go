package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-faker/faker/v4"
)

// Request shape must match what the payment gateway expects.
type purchaseRequest struct {
	LineItems []lineItem `json:"line_items"`
}

type lineItem struct {
	CatalogItemID string `json:"catalog_item_id"`
	DeliveryTier  string `json:"delivery_tier"`
}

var tiers = []string{"low", "medium", "high", "lossless"}

func main() {
	// 1. Setting up flags
	targetURL := flag.String("target", "http://localhost:8080/api/v1/purchases", "Target URL for purchase requests")
	rps := flag.Int("rps", 10, "Requests per second")
	token := flag.String("token", "", "Bearer token for the Authorization header")
	items := flag.String("items", "", "Comma-separated catalog item ids to pick from (random ids when empty)")
	flag.Parse()

	var catalogIDs []string
	if *items != "" {
		catalogIDs = strings.Split(*items, ",")
	}

	log.Printf("Starting generator: target=%s, rps=%d\n", *targetURL, *rps)

	// 2. Managing the request frequency via ticker
	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	// 3. Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Main loop
	for {
		select {
		case <-ticker.C:
			// Start sending in a goroutine so as not to block the ticker
			go sendRequest(*targetURL, *token, catalogIDs)
		case <-ctx.Done():
			log.Println("Shutting down generator...")
			return
		}
	}
}

func sendRequest(url, token string, catalogIDs []string) {
	// Create a fake purchase of one to three tracks
	count := 1 + rand.Intn(3)
	reqData := purchaseRequest{LineItems: make([]lineItem, 0, count)}
	for i := 0; i < count; i++ {
		reqData.LineItems = append(reqData.LineItems, lineItem{
			CatalogItemID: pickItemID(catalogIDs),
			DeliveryTier:  tiers[rand.Intn(len(tiers))],
		})
	}

	body, err := json.Marshal(reqData)
	if err != nil {
		log.Printf("ERROR: failed to marshal request: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		log.Printf("ERROR: failed to build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("ERROR: failed to send request: %v", err)
		return
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body : %v", err)
		}
	}()

	if resp.StatusCode != http.StatusCreated {
		log.Printf("WARN: received non-201 status code: %d", resp.StatusCode)
	} else {
		log.Printf("INFO: purchase created, status: %d", resp.StatusCode)
	}
}

func pickItemID(catalogIDs []string) string {
	if len(catalogIDs) > 0 {
		return catalogIDs[rand.Intn(len(catalogIDs))]
	}
	return "track-" + faker.Word()
}

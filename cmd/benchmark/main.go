package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	accounts    int
	amount      string
)

var (
	totalRequests uint64
	posted201     uint64
	rejected4xx   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&accounts, "accounts", 100, "Number of seeded accounts to draw from")
	flag.StringVar(&amount, "amount", "1.00", "Transfer amount")
}

type participant struct {
	userID    string
	accountID string
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark | Workers: %d | Duration: %s | Accounts: %d", concurrency, duration, accounts)

	participants, err := resolveParticipants()
	if err != nil {
		log.Fatalf("Resolving accounts failed: %v", err)
	}
	if len(participants) < 2 {
		log.Fatal("Need at least two resolvable accounts; run the seeder first")
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, participants)
	}
	wg.Wait()
	printResults(time.Since(start))
}

// resolveParticipants maps each seeded user to their first account id via
// the API, so workers can address transfers by real ids.
func resolveParticipants() ([]participant, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	var out []participant
	for i := 0; i < accounts; i++ {
		userID := fmt.Sprintf("user-%04d", i)
		req, _ := http.NewRequest("GET", targetURL+"/api/v1/accounts", nil)
		req.Header.Set("X-User-ID", userID)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		var accs []struct {
			ID string `json:"id"`
		}
		err = json.NewDecoder(resp.Body).Decode(&accs)
		resp.Body.Close()
		if err != nil || len(accs) == 0 {
			continue
		}
		out = append(out, participant{userID: userID, accountID: accs[0].ID})
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, start time.Time, participants []participant) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from := participants[rand.Intn(len(participants))]
		to := participants[rand.Intn(len(participants))]
		if from.accountID == to.accountID {
			continue
		}

		payload := map[string]interface{}{
			"from_account_id": from.accountID,
			"to_account_id":   to.accountID,
			"amount":          amount,
			"memo":            "bench",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", from.userID)

		atomic.AddUint64(&totalRequests, 1)
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&posted201, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&rejected4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("--- Benchmark Results ---")
	fmt.Printf("Elapsed:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total Requests: %d (%.1f req/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Posted (201):   %d\n", atomic.LoadUint64(&posted201))
	fmt.Printf("Rejected (4xx): %d\n", atomic.LoadUint64(&rejected4xx))
	fmt.Printf("Other/Errors:   %d\n", atomic.LoadUint64(&failOther))
}

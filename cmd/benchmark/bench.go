package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
)

// mockCompletion mimics an openai chat completions payload.
var mockCompletion = []byte(`{
	"id": "bench-123",
	"model": "gpt-4o-mini",
	"choices": [{"message": {"role": "assistant", "content": "Hello"}}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 4}
}`)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	failPct := flag.Int("fail-pct", 0, "Percent of primary-provider calls that fail, to exercise failover")
	flag.Parse()

	go startMockUpstream(*failPct)

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configDir, err := os.MkdirTemp("", "relay-bench")
	if err != nil {
		log.Fatalf("Failed to create config dir: %v", err)
	}
	defer os.RemoveAll(configDir)

	if err := os.WriteFile(configDir+"/config.yaml", []byte(benchConfig), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}

	binPath, err := filepath.Abs("bin/server")
	if err != nil {
		log.Fatalf("Failed to resolve binary path: %v", err)
	}

	fmt.Println("Starting application...")
	app := exec.Command(binPath)
	app.Dir = configDir
	app.Env = append(os.Environ(),
		fmt.Sprintf("SERVER_PORT=%d", appPort),
		"LOG_LEVEL=error",
	)

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	app.Stdout = logFile
	app.Stderr = logFile

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if app.Process != nil {
			_ = app.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/healthz", appPort))

	fmt.Printf("Running benchmark: %s duration, %d req/s, %d%% primary failures\n",
		*duration, *rate, *failPct)

	body := `{"prompt": "Hello", "route": "bench"}`
	targeter := func(t *vegeta.Target) error {
		t.Method = "POST"
		t.URL = fmt.Sprintf("http://localhost:%d/v1/completions", appPort)
		t.Body = []byte(body)
		t.Header = http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer bench-key-12345"},
		}
		return nil
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error set (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if seen[msg] || len(seen) >= 5 {
				continue
			}
			fmt.Println(msg)
			seen[msg] = true
		}
	}
}

// startMockUpstream serves two openai-shaped backends on one port. The
// primary path fails failPct percent of the time so the gateway's
// breaker and failover paths see real traffic.
func startMockUpstream(failPct int) {
	mux := http.NewServeMux()

	handler := func(flaky bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if flaky && rand.Intn(100) < failPct {
				http.Error(w, `{"error": "injected failure"}`, http.StatusInternalServerError)
				return
			}
			time.Sleep(10 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(mockCompletion)
		}
	}

	mux.HandleFunc("/primary/chat/completions", handler(true))
	mux.HandleFunc("/fallback/chat/completions", handler(false))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Data []map[string]string `json:"data"`
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: %s
  env: development
  api_keys: ["bench-key-12345"]
rate_limit:
  requests_per_second: 100000
  burst: 100000
cache:
  backend: none
providers:
  - name: primary
    type: openai
    model: gpt-4o-mini
    api_key: mock-key
    base_url: "http://localhost:%d/primary"
    priority: 1
    rate_limit:
      requests_per_second: 100000
      burst: 100000
    enabled: true
  - name: fallback
    type: openai
    model: gpt-4o-mini
    api_key: mock-key
    base_url: "http://localhost:%d/fallback"
    priority: 2
    rate_limit:
      requests_per_second: 100000
      burst: 100000
    enabled: true
`, strconv.Itoa(appPort), mockPort, mockPort)

// Command loadtest fires scaffolding jobs at a running forge instance and
// polls each one until it reaches a terminal state.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const baseURL = "http://localhost:8080"

type startResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

func main() {
	totalJobs := 20
	ratePerSecond := 2

	ticker := time.NewTicker(time.Second / time.Duration(ratePerSecond))
	defer ticker.Stop()

	var wg sync.WaitGroup
	client := &http.Client{Timeout: 30 * time.Second}

	for i := 1; i <= totalJobs; i++ {
		<-ticker.C

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runJob(client, n)
		}(i)
	}

	wg.Wait()
	fmt.Println("All jobs finished")
}

func runJob(client *http.Client, n int) {
	payload, _ := json.Marshal(map[string]string{
		"appName": fmt.Sprintf("load test app %d", n),
	})

	req, err := http.NewRequest("POST", baseURL+"/job", bytes.NewBuffer(payload))
	if err != nil {
		fmt.Printf("Job %d: error creating request: %v\n", n, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", fmt.Sprintf("loadtest-%d", n))

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Job %d: error starting: %v\n", n, err)
		return
	}
	var started startResponse
	err = json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()
	if err != nil || started.JobID == "" {
		fmt.Printf("Job %d: unexpected start response (status %d)\n", n, resp.StatusCode)
		return
	}

	for {
		time.Sleep(5 * time.Second)

		req, err := http.NewRequest("GET", baseURL+"/job/"+started.JobID, nil)
		if err != nil {
			fmt.Printf("Job %d: error creating status request: %v\n", n, err)
			return
		}
		req.Header.Set("X-User-ID", fmt.Sprintf("loadtest-%d", n))

		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Job %d: error polling: %v\n", n, err)
			continue
		}
		var status statusResponse
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			fmt.Printf("Job %d: bad status body: %v\n", n, err)
			continue
		}

		fmt.Printf("Job %d -> %s/%s\n", n, status.Status, status.Stage)
		if status.Status == "completed" || status.Status == "failed" {
			return
		}
	}
}

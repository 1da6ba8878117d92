package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"feedsync/pkg/utils"
)

var (
	baseURL     = flag.String("url", "http://localhost:8080", "feedsync base url")
	secret      = flag.String("secret", os.Getenv("JWT_SECRET"), "jwt secret used to mint the test token")
	userID      = flag.String("user", "00000000-0000-0000-0000-000000000001", "user id to sign in as")
	concurrency = flag.Int("c", 50, "concurrent writers")
	total       = flag.Int("n", 1000, "comments to create")
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 500
	t.MaxIdleConnsPerHost = 500
	httpClient = &http.Client{
		Transport: t,
		Timeout:   30 * time.Second,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	flag.Parse()

	// 1. 登录并发布一条压测动态
	token, _, err := utils.GenerateToken(*secret, utils.Claims{UserID: *userID, Email: "stress@example.com"}, time.Hour)
	if err != nil {
		fmt.Printf("签发 token 失败: %v\n", err)
		os.Exit(1)
	}
	if _, err := call(http.MethodPost, "/session", nil, token); err != nil {
		fmt.Printf("登录失败: %v\n", err)
		os.Exit(1)
	}

	var post struct {
		ID string `json:"id"`
	}
	data, err := call(http.MethodPost, "/feed/posts?wait=true", map[string]string{"content": "stress test"}, "")
	if err != nil || json.Unmarshal(data, &post) != nil {
		fmt.Printf("发布动态失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("开始压测：%d 个并发写入 %d 条评论 (PostID: %s)...\n", *concurrency, *total, post.ID)

	// 2. 并发评论, 每条等待远端确认
	var success, failed atomic.Int64
	jobs := make(chan int)
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				body := map[string]string{"content": fmt.Sprintf("comment #%d", i)}
				if _, err := call(http.MethodPost, "/feed/posts/"+post.ID+"/comments?wait=true", body, ""); err != nil {
					failed.Add(1)
					continue
				}
				success.Add(1)
			}
		}()
	}
	for i := 0; i < *total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	duration := time.Since(start)

	// 3. 校验计数收敛
	var comments struct {
		Count int64 `json:"count"`
	}
	data, err = call(http.MethodGet, "/feed/posts/"+post.ID+"/comments?refresh=true", nil, "")
	if err == nil {
		_ = json.Unmarshal(data, &comments)
	}

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("QPS: %.2f\n", float64(*total)/duration.Seconds())
	fmt.Printf("成功: %d 失败: %d\n", success.Load(), failed.Load())
	fmt.Printf("评论计数: %d (预期: %d)\n", comments.Count, success.Load())
	fmt.Println("--------------------------------------------------")

	_, _ = call(http.MethodDelete, "/feed/posts/"+post.ID, nil, "")
	_, _ = call(http.MethodDelete, "/session", nil, "")
}

func call(method, path string, payload interface{}, token string) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, *baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || env.Code != 0 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	return env.Data, nil
}

package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/gatewayclient"
	"github.com/spf13/viper"
)

// newFakeSimulator 返回按路径应答的模拟器
func newFakeSimulator(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/_sim/routes":
			json.NewEncoder(w).Encode(map[string]any{
				"routes": []map[string]string{
					{"method": "POST", "path": "/users", "functionName": "userRegistration"},
					{"method": "GET", "path": "/users/:userId", "functionName": "getUserProfile"},
				},
			})
		case r.URL.Path == "/_sim/streams":
			json.NewEncoder(w).Encode(map[string]any{
				"streams": []map[string]any{{"name": "bet-events", "records": 2, "retention": 1000}},
				"stats":   map[string]any{"published": 2},
			})
		case r.URL.Path == "/_sim/streams/bet-events/events":
			if r.URL.Query().Get("limit") != "1" {
				t.Errorf("expected limit=1, got %q", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"records": []domain.Record{{
					EventID:     "01HX",
					EventType:   domain.EventBetWon,
					EventSource: "bet-events",
					Data:        map[string]any{"betId": "b1"},
					Timestamp:   time.Now(),
				}},
			})
		case r.URL.Path == "/users" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			if r.Header.Get("X-Request-Id") != "cli-1" {
				t.Errorf("expected X-Request-Id header, got %q", r.Header.Get("X-Request-Id"))
			}
			w.WriteHeader(http.StatusCreated)
			w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(domain.ErrorBody{Message: "Route not found"})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// execute 以给定参数运行根命令并返回输出
func execute(t *testing.T, serverURL, output string, args ...string) (string, error) {
	t.Helper()
	viper.Set("api_url", serverURL)
	viper.Set("output", output)
	t.Cleanup(func() {
		viper.Set("api_url", "")
		viper.Set("output", "")
	})

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRoutesCommand(t *testing.T) {
	server := newFakeSimulator(t)

	out, err := execute(t, server.URL, "table", "routes")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out, "METHOD") || !strings.Contains(out, "/users/:userId") || !strings.Contains(out, "getUserProfile") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestStreamsCommand(t *testing.T) {
	server := newFakeSimulator(t)

	out, err := execute(t, server.URL, "json", "streams")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var resp gatewayclient.StreamsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, out)
	}
	if len(resp.Streams) != 1 || resp.Streams[0].Name != "bet-events" || resp.Stats.Published != 2 {
		t.Errorf("unexpected streams %+v", resp)
	}
}

func TestEventsCommand(t *testing.T) {
	server := newFakeSimulator(t)

	out, err := execute(t, server.URL, "yaml", "events", "bet-events", "--limit", "1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out, "eventType: BET_WON") || !strings.Contains(out, "betId: b1") {
		t.Errorf("unexpected output: %s", out)
	}

	_, err = execute(t, server.URL, "table", "events", "missing")
	if err == nil || !strings.Contains(err.Error(), "Route not found") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestInvokeCommand(t *testing.T) {
	server := newFakeSimulator(t)

	out, err := execute(t, server.URL, "json", "invoke", "post", "/users",
		"--data", `{"username":"alice"}`, "-H", "X-Request-Id: cli-1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var result struct {
		StatusCode int            `json:"statusCode"`
		Body       map[string]any `json:"body"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, out)
	}
	if result.StatusCode != http.StatusCreated || result.Body["username"] != "alice" {
		t.Errorf("unexpected result %+v", result)
	}

	// 4xx 响应照常打印，但命令以错误结束
	invokeData, invokeHeaders = "", nil
	out, err = execute(t, server.URL, "table", "invoke", "GET", "/nowhere")
	if err == nil {
		t.Error("expected error for 404 response")
	}
	if !strings.Contains(out, "404") || !strings.Contains(out, "Route not found") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Request-Id: abc", "Accept:application/json"})
	if err != nil {
		t.Fatal(err)
	}
	if headers["X-Request-Id"] != "abc" || headers["Accept"] != "application/json" {
		t.Errorf("unexpected headers %v", headers)
	}
	if _, err := parseHeaders([]string{"no-colon"}); err == nil {
		t.Error("expected error for malformed header")
	}
}

func TestPrinter_PrintRecord(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter("table", &buf)
	p.PrintRecord(domain.Record{
		EventID:   "01HX",
		EventType: "GAME_RESULT",
		Data:      map[string]string{"gameId": "g1"},
		Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	out := buf.String()
	if !strings.Contains(out, "10:00:00.000") || !strings.Contains(out, `{"gameId":"g1"}`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "lambdasim version dev") {
		t.Errorf("unexpected output: %s", out)
	}
}

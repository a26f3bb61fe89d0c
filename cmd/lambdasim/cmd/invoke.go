package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// invokeCmd 通过模拟器调用一条业务路由。
// 请求体可以来自 --data、--file 或标准输入。
var invokeCmd = &cobra.Command{
	Use:   "invoke <METHOD> <path>",
	Short: "Invoke a route on the simulator",
	Long: `Send an HTTP request to a registered route and print the function's response.

Examples:
  # Register a user
  lambdasim invoke POST /users --data '{"username":"alice","email":"alice@example.com"}'

  # Fetch a profile
  lambdasim invoke GET /users/4f1c...

  # Body from file
  lambdasim invoke POST /bets --file bet.json

  # Body from stdin
  echo '{"gameId":"g1","result":"WIN"}' | lambdasim invoke POST /games/result`,
	Args: cobra.ExactArgs(2),
	RunE: runInvoke,
}

var (
	invokeData    string   // 请求体
	invokeFile    string   // 请求体文件
	invokeHeaders []string // 额外请求头，格式 Name: value
	invokeTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeData, "data", "d", "", "Request body")
	invokeCmd.Flags().StringVarP(&invokeFile, "file", "f", "", "Request body file")
	invokeCmd.Flags().StringArrayVarP(&invokeHeaders, "header", "H", nil, "Extra header, e.g. 'X-Request-Id: abc'")
	invokeCmd.Flags().DurationVar(&invokeTimeout, "timeout", 60*time.Second, "Request timeout")
}

// runInvoke 读取请求体并调用路由，非 2xx 响应以非零状态退出。
func runInvoke(cmd *cobra.Command, args []string) error {
	method, path := strings.ToUpper(args[0]), args[1]

	body, err := readInvokeBody(method)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(invokeHeaders)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := NewClient().Invoke(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	if err := NewPrinter(cmd.OutOrStdout()).PrintInvokeResult(resp, time.Since(start)); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}
	return nil
}

// readInvokeBody 按 --data、--file、标准输入的顺序获取请求体，GET 与 HEAD 不读取标准输入
func readInvokeBody(method string) ([]byte, error) {
	switch {
	case invokeData != "":
		return []byte(invokeData), nil
	case invokeFile != "":
		data, err := os.ReadFile(invokeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return data, nil
	case method == http.MethodGet || method == http.MethodHead:
		return nil, nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return nil, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// parseHeaders 解析 "Name: value" 形式的请求头
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

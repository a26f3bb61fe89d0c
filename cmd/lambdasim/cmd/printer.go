// Package cmd 提供 lambdasim 命令行工具的所有子命令实现。
// 本文件实现输出格式化打印功能，支持多种输出格式。
//
// Printer 支持以下输出格式：
//   - table: 表格格式（默认），适合人类阅读
//   - json:  JSON 格式，适合程序处理
//   - yaml:  YAML 格式
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oriys/lambdasim/internal/api"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/gatewayclient"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Printer 是格式化输出的处理器。
type Printer struct {
	format string    // 输出格式：table、json 或 yaml
	writer io.Writer // 输出目标，默认为 os.Stdout
}

// NewPrinter 创建一个新的 Printer 实例。
// 从 viper 配置中读取 output 格式，如果未配置则默认使用 table 格式；w 为 nil 时输出到 os.Stdout。
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return newPrinter(viper.GetString("output"), w)
}

func newPrinter(format string, w io.Writer) *Printer {
	if format == "" {
		format = "table"
	}
	return &Printer{format: strings.ToLower(format), writer: w}
}

// invokeOutput 是 invoke 命令的结构化输出
type invokeOutput struct {
	StatusCode int               `json:"statusCode" yaml:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       any               `json:"body" yaml:"body"`
	DurationMs int64             `json:"durationMs" yaml:"durationMs"`
}

// PrintInvokeResult 打印路由调用结果。
//
// 参数：
//   - resp: 原始响应
//   - elapsed: 客户端观察到的耗时
//
// 返回值：
//   - error: 打印失败时返回错误信息
func (p *Printer) PrintInvokeResult(resp *gatewayclient.Response, elapsed time.Duration) error {
	switch p.format {
	case "json", "yaml":
		out := invokeOutput{
			StatusCode: resp.StatusCode,
			Headers:    map[string]string{},
			Body:       string(resp.Body),
			DurationMs: elapsed.Milliseconds(),
		}
		for k := range resp.Header {
			out.Headers[k] = resp.Header.Get(k)
		}
		var decoded any
		if json.Unmarshal(resp.Body, &decoded) == nil {
			out.Body = decoded
		}
		return p.encode(out)
	default:
		return p.printInvokeResultDetail(resp, elapsed)
	}
}

// PrintRoutes 打印路由表
func (p *Printer) PrintRoutes(routes []api.RouteInfo) error {
	if p.format != "table" {
		return p.encode(routes)
	}
	if len(routes) == 0 {
		fmt.Fprintln(p.writer, "No routes registered.")
		return nil
	}

	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tFUNCTION")
	for _, rt := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rt.Method, rt.Path, rt.FunctionName)
	}
	return w.Flush()
}

// PrintStreams 打印事件流摘要与总线统计
func (p *Printer) PrintStreams(resp *gatewayclient.StreamsResponse) error {
	if p.format != "table" {
		return p.encode(resp)
	}
	if len(resp.Streams) == 0 {
		fmt.Fprintln(p.writer, "No streams found.")
		return nil
	}

	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tRECORDS\tRETENTION\tSUBSCRIBERS\tEVICTED")
	for _, s := range resp.Streams {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", s.Name, s.Records, s.Retention, s.Subscribers, s.Evicted)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(p.writer, "\nPublished: %d  Delivered: %d  Evicted: %d  Failures: %d  Dropped: %d\n",
		resp.Stats.Published, resp.Stats.Delivered, resp.Stats.Evicted,
		resp.Stats.SubscriberFailures, resp.Stats.Dropped)
	return nil
}

// PrintRecords 打印事件记录列表
func (p *Printer) PrintRecords(records []domain.Record) error {
	if p.format != "table" {
		return p.encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(p.writer, "No records found.")
		return nil
	}

	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tTIME\tDATA")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.EventID,
			colorEventType(r.EventType),
			timeAgo(r.Timestamp),
			truncate(compactData(r.Data), 60),
		)
	}
	return w.Flush()
}

// PrintRecord 以单行形式打印一条实时记录，json/yaml 格式下输出完整结构
func (p *Printer) PrintRecord(r domain.Record) error {
	switch p.format {
	case "json":
		return json.NewEncoder(p.writer).Encode(r)
	case "yaml":
		fmt.Fprintln(p.writer, "---")
		return p.printYAML(r)
	default:
		_, err := fmt.Fprintf(p.writer, "%s  %-12s  %s  %s\n",
			r.Timestamp.Format("15:04:05.000"),
			colorEventType(r.EventType),
			r.EventID,
			compactData(r.Data),
		)
		return err
	}
}

func (p *Printer) encode(v any) error {
	if p.format == "yaml" {
		return p.printYAML(v)
	}
	return p.printJSON(v)
}

// printJSON 以 JSON 格式输出数据，使用 2 空格缩进
func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML 以 YAML 格式输出数据。
// 先经过 JSON 编码，使字段名与 JSON 输出一致。
func (p *Printer) printYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// printInvokeResultDetail 以详细格式输出调用结果
func (p *Printer) printInvokeResultDetail(resp *gatewayclient.Response, elapsed time.Duration) error {
	status := "success"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = "failed"
	}

	fmt.Fprintf(p.writer, "Status:       %s\n", colorStatus(status))
	fmt.Fprintf(p.writer, "Status Code:  %d\n", resp.StatusCode)
	fmt.Fprintf(p.writer, "Duration:     %d ms\n", elapsed.Milliseconds())
	if id := resp.Header.Get("X-Request-Id"); id != "" {
		fmt.Fprintf(p.writer, "Request ID:   %s\n", id)
	}

	if len(resp.Body) > 0 {
		fmt.Fprintln(p.writer, "\nBody:")
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, resp.Body, "", "  "); err == nil {
			fmt.Fprintln(p.writer, prettyJSON.String())
		} else {
			fmt.Fprintln(p.writer, string(resp.Body))
		}
	}
	return nil
}

// ====== 辅助函数 ======

// colorStatus 根据状态值返回带颜色的字符串
func colorStatus(status string) string {
	switch strings.ToLower(status) {
	case "success", "healthy":
		return "\033[32m" + status + "\033[0m" // Green
	case "failed", "error":
		return "\033[31m" + status + "\033[0m" // Red
	default:
		return status
	}
}

// colorEventType 为结算类事件着色
func colorEventType(eventType string) string {
	switch eventType {
	case domain.EventBetWon:
		return "\033[32m" + eventType + "\033[0m"
	case domain.EventBetLost:
		return "\033[31m" + eventType + "\033[0m"
	default:
		return eventType
	}
}

// compactData 把事件载荷压缩为单行 JSON
func compactData(v any) string {
	if v == nil {
		return "-"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// timeAgo 将时间转换为相对时间字符串，例如 "5s ago"、"3m ago"
func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncate 截断字符串到指定长度，超出部分以 "..." 结尾
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

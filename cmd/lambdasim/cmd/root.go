// Package cmd 包含 lambdasim CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"fmt"
	"os"

	"github.com/oriys/lambdasim/internal/gatewayclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // 配置文件路径
	apiURL    string // 模拟器地址
	outputFmt string // 输出格式（table/json/yaml）
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "lambdasim",
	Short: "lambdasim - local Lambda simulator CLI",
	Long: `lambdasim 是本地 Lambda 模拟器的命令行工具。

使用示例:
  # 注册用户
  lambdasim invoke POST /users --data '{"username":"alice","email":"alice@example.com"}'

  # 查看投注事件流最近 5 条记录
  lambdasim events bet-events --limit 5

  # 实时查看事件流
  lambdasim tail bet-events`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认为 $HOME/.lambdasim.yaml）")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "u", gatewayclient.DefaultBaseURL, "模拟器地址")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "输出格式（table、json、yaml）")

	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// initConfig 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lambdasim")
	}

	// 环境变量格式：LAMBDASIM_<KEY>，如 LAMBDASIM_API_URL
	viper.SetEnvPrefix("LAMBDASIM")
	viper.AutomaticEnv()

	// 配置文件不存在时忽略
	_ = viper.ReadInConfig()
}

// NewClient 按当前配置创建模拟器客户端
func NewClient() *gatewayclient.Client {
	return gatewayclient.New(viper.GetString("api_url"))
}

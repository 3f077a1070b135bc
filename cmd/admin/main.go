package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"prashikshan/internal/auth"
	"prashikshan/internal/config"
	"prashikshan/internal/database"
	"prashikshan/internal/news"
	"prashikshan/internal/tasks"
)

// rootCmd 是运维命令行入口。
var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Prashikshan 运维工具",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "生成随机管理密钥并输出 bcrypt 哈希",
	Long: `生成一个随机管理密钥，同时输出它的 bcrypt 哈希。
把哈希写入 ADMIN_API_KEY_HASH，把明文密钥交给管理员（只显示一次）。
使用 --key 可以对已有密钥求哈希。`,
	RunE: runHashKey,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发本地开发用的访问令牌",
	RunE:  runToken,
}

var refreshNewsCmd = &cobra.Command{
	Use:   "refresh-news",
	Short: "把新闻刷新任务放入队列",
	RunE:  runRefreshNews,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移数据库表结构",
	RunE:  runMigrate,
}

func init() {
	hashKeyCmd.Flags().String("key", "", "对已有密钥求哈希，留空则随机生成")
	hashKeyCmd.Flags().Int("bytes", 32, "随机密钥字节数")

	tokenCmd.Flags().String("sub", "", "用户 ID（必填）")
	tokenCmd.Flags().String("email", "", "用户邮箱")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "令牌有效期")
	_ = tokenCmd.MarkFlagRequired("sub")

	refreshNewsCmd.Flags().StringSlice("categories", nil, "要刷新的分类，留空刷新全部")
	refreshNewsCmd.Flags().Bool("sync-cloud", true, "刷新后同步到对象存储")

	rootCmd.AddCommand(hashKeyCmd, tokenCmd, refreshNewsCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runHashKey(cmd *cobra.Command, _ []string) error {
	key, _ := cmd.Flags().GetString("key")
	size, _ := cmd.Flags().GetInt("bytes")

	key = strings.TrimSpace(key)
	if key == "" {
		generated, err := auth.GenerateAdminKey(size)
		if err != nil {
			return err
		}
		key = generated
	}
	hash, err := auth.HashAdminKey(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "管理密钥: %s\n", key)
	fmt.Fprintf(out, "ADMIN_API_KEY_HASH=%s\n", hash)
	fmt.Fprintln(out, "提示：密钥只显示一次，请妥善保存。")
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	sub, _ := cmd.Flags().GetString("sub")
	email, _ := cmd.Flags().GetString("email")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	token, err := verifier.Sign(strings.TrimSpace(sub), strings.TrimSpace(email), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runRefreshNews(cmd *cobra.Command, _ []string) error {
	categories, _ := cmd.Flags().GetStringSlice("categories")
	syncCloud, _ := cmd.Flags().GetBool("sync-cloud")

	resolved := make([]string, 0, len(categories))
	for _, name := range categories {
		key, ok := news.ResolveCategory(name)
		if !ok {
			return fmt.Errorf("unknown category %q (available: %s)", name, strings.Join(news.CategoryAliases(), ", "))
		}
		resolved = append(resolved, key)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer client.Close()

	task, err := tasks.NewNewsRefreshTask(tasks.NewsRefreshPayload{
		Categories:    resolved,
		SyncCloud:     syncCloud,
		CorrelationID: "cli-" + uuid.NewString(),
	})
	if err != nil {
		return err
	}
	info, err := client.EnqueueContext(cmd.Context(), task)
	if err != nil {
		return fmt.Errorf("enqueue news refresh: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已入队: task_id=%s queue=%s\n", info.ID, info.Queue)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.InitDatabase(cfg.Database, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	if err := database.AutoMigrate(db.WithContext(ctx)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "数据库迁移完成")
	return nil
}

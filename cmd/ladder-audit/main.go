// ladder-audit 保护审计工具：默认查询审计日志（最近的缺口与恢复记录），
// -live 时对网关快照做一次现场对账并打印结果。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/betbot/ladderbot/internal/broker"
	"github.com/betbot/ladderbot/internal/journal"
	"github.com/betbot/ladderbot/internal/protection"
	"github.com/betbot/ladderbot/internal/tagstore"
	"github.com/betbot/ladderbot/pkg/config"
)

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	dbPath := flag.String("db", "", "审计库路径（默认取配置文件）")
	limit := flag.Int("limit", 20, "每类记录的返回条数")
	live := flag.Bool("live", false, "对网关快照做一次现场覆盖对账")
	flag.Parse()

	if *live {
		runLive(*configPath)
		return
	}

	path := *dbPath
	if path == "" {
		if cfg, err := config.Load(*configPath); err == nil {
			path = cfg.JournalPath
		} else {
			path = "data/ladder_journal.db"
		}
	}

	jnl, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开审计库失败: %v\n", err)
		os.Exit(1)
	}
	defer jnl.Close()

	ctx := context.Background()

	gaps, err := jnl.ListGaps(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询缺口记录失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("最近 %d 条保护缺口:\n", len(gaps))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "时间\t账户\t标的\t标签\t持仓\t已保护\t缺口\t止损单")
	for _, g := range gaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%.0f\t%.0f\t%v\n",
			g.RecordedAt.Format(time.RFC3339), g.Account, g.Symbol, g.ClientTag,
			g.PositionQty, g.ProtectedQty, g.UncoveredQty, g.StopOrderIDs)
	}
	w.Flush()

	subs, err := jnl.ListSubmissions(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询提交记录失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n最近 %d 条阶梯提交:\n", len(subs))
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "时间\t账户\t标的\t标签\t模式\t数量")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.RecordedAt.Format(time.RFC3339), s.Account, s.Symbol, s.ClientTag, s.Mode, s.Qty)
	}
	w.Flush()

	recs, err := jnl.ListRestoredSessions(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询恢复记录失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n最近 %d 条会话恢复:\n", len(recs))
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "时间\t账户\t标的\t标签\t模式\t状态\t原因\t持仓\t已保护")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.0f\t%.0f\n",
			r.RecordedAt.Format(time.RFC3339), r.Account, r.Symbol, r.ClientTag,
			r.Mode, r.State, r.Reason, r.PositionQty, r.ProtectedQty)
	}
	w.Flush()
}

// runLive 拉取网关快照，跑一遍恢复 + 覆盖对账并打印结果。只读，不落盘不下单。
func runLive(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	tags, err := tagstore.Open(tagstore.OpenOptions{Path: cfg.TagStorePath, ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开标签存储失败: %v\n", err)
		os.Exit(1)
	}
	defer tags.Close()

	client := broker.NewClient(broker.Config{
		BaseURL: cfg.Broker.BaseURL,
		APIKey:  cfg.Broker.APIKey,
		Timeout: cfg.Broker.Timeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Broker.Timeout())
	defer cancel()

	orders, err := client.ActiveOrders(ctx, cfg.Account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询活跃订单失败: %v\n", err)
		os.Exit(1)
	}
	positions, err := client.Positions(ctx, cfg.Account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询持仓失败: %v\n", err)
		os.Exit(1)
	}

	restored, restoreSum := protection.RestoreSessions(positions, orders,
		tags.TagForPosition, tags.ExpectedTakeProfitCount, cfg.Ladder.TagPrefix)
	fmt.Printf("会话恢复: restored=%d protected=%d unprotected=%d\n",
		restoreSum.Restored, restoreSum.Protected, restoreSum.Unprotected)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "账户\t标的\t标签\t模式\t状态\t原因\t持仓\t已保护")
	for _, r := range restored {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f\t%.0f\n",
			r.Account, r.Symbol, r.ClientTag, r.Mode, r.State, r.Reason, r.PositionQty, r.ProtectedQty)
	}
	w.Flush()

	gaps, covSum := protection.ReconcileCoverage(positions, orders, tags.TagForPosition, cfg.Ladder.TagPrefix)
	fmt.Printf("\n覆盖对账: inspected=%d covered=%d gaps=%d\n",
		covSum.Inspected, covSum.Covered, covSum.GapCount)
	if len(gaps) > 0 {
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "账户\t标的\t标签\t持仓\t已保护\t缺口\t止损单")
		for _, g := range gaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\t%.0f\t%v\n",
				g.Account, g.Symbol, g.ClientTag, g.PositionQty, g.ProtectedQty, g.UncoveredQty, g.StopOrderIDs)
		}
		w.Flush()
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"binance-spot-executor/config"
	"binance-spot-executor/internal/database"
)

func main() {
	days := flag.Int("days", 30, "look-back window in days")
	sortBy := flag.String("sort", "profit", "sort by profit, trades or winrate")
	flag.Parse()

	// .env next to the binary or in the working directory
	exe, _ := os.Executable()
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(filepath.Dir(exe), ".env"))

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Name,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
		MaxConns: 2,
	}, zerolog.Nop())
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	since := time.Now().AddDate(0, 0, -*days)
	stats, err := database.NewRepository(db).OrderStats(ctx, since)
	if err != nil {
		fmt.Printf("Failed to load order stats: %v\n", err)
		os.Exit(1)
	}

	sortStats(stats, *sortBy)
	printReport(stats, since)
}

func sortStats(stats []database.SymbolStats, by string) {
	sort.Slice(stats, func(i, j int) bool {
		switch by {
		case "trades":
			return stats[i].Trades > stats[j].Trades
		case "winrate":
			return stats[i].WinRate() > stats[j].WinRate()
		default:
			return stats[i].TotalProfit > stats[j].TotalProfit
		}
	})
}

func printReport(stats []database.SymbolStats, since time.Time) {
	line := strings.Repeat("=", 72)
	fmt.Println(line)
	fmt.Printf("SIGNAL OUTCOMES SINCE %s\n", since.Format("2006-01-02"))
	fmt.Println(line)

	if len(stats) == 0 {
		fmt.Println("No completed trades in this window.")
		return
	}

	fmt.Printf("%-14s %8s %8s %9s %14s %9s\n", "SYMBOL", "TRADES", "WINS", "WIN RATE", "PROFIT", "LABELED")
	var trades, wins, labeled int
	var profit float64
	for _, s := range stats {
		fmt.Printf("%-14s %8d %8d %8.1f%% %14.4f %9d\n",
			s.Symbol, s.Trades, s.Wins, s.WinRate()*100, s.TotalProfit, s.Labeled)
		trades += s.Trades
		wins += s.Wins
		labeled += s.Labeled
		profit += s.TotalProfit
	}

	total := database.SymbolStats{Symbol: "TOTAL", Trades: trades, Wins: wins, TotalProfit: profit, Labeled: labeled}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%-14s %8d %8d %8.1f%% %14.4f %9d\n",
		total.Symbol, total.Trades, total.Wins, total.WinRate()*100, total.TotalProfit, total.Labeled)
}

package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/chapterdl/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:          "chapterdl",
		Short:        "chapterdl CLI - manga chapter download queue",
		Long:         `A command-line interface for queueing manga chapters on a chapterdl server and controlling its downloader.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:4567", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd, listCmd, getCmd, statsCmd, startCmd, stopCmd,
		retryCmd, removeCmd, clearCmd, logsCmd, watchCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// parseChapterArgs parses "<manga-id> <chapter-index>" arguments
func parseChapterArgs(args []string) (domain.ChapterKey, error) {
	mangaID, err := strconv.Atoi(args[0])
	if err != nil || mangaID < 0 {
		return domain.ChapterKey{}, fmt.Errorf("invalid manga id %q", args[0])
	}
	chapterIndex, err := strconv.Atoi(args[1])
	if err != nil || chapterIndex < 0 {
		return domain.ChapterKey{}, fmt.Errorf("invalid chapter index %q", args[1])
	}
	return domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}, nil
}

func downloadPath(key domain.ChapterKey) string {
	return fmt.Sprintf("/api/v1/downloads/%d/%d", key.MangaID, key.ChapterIndex)
}

var addCmd = &cobra.Command{
	Use:   "add [manga-id] [chapter-index]",
	Short: "Add a chapter to the download queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseChapterArgs(args)
		if err != nil {
			return err
		}
		ensureServer()

		var download domain.DownloadSnapshot
		if err := newAPIClient().post("/api/v1/downloads", key, &download); err != nil {
			return err
		}

		fmt.Printf("Chapter queued successfully!\n")
		fmt.Printf("Chapter: %s\n", download.Key())
		fmt.Printf("State:   %s\n", download.State)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the download queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		state, _ := cmd.Flags().GetString("state")

		path := "/api/v1/downloads"
		if state != "" {
			path += "?state=" + url.QueryEscape(state)
		}

		var downloads []domain.DownloadSnapshot
		if err := newAPIClient().get(path, &downloads); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAPTER\tNAME\tSTATE\tPROGRESS\tUPDATED")
		for _, d := range downloads {
			name := ""
			if d.Chapter != nil {
				name = d.Chapter.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%3.0f%%\t%s\n",
				d.Key(),
				truncate(name, 40),
				d.State,
				d.Progress*100,
				d.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [manga-id] [chapter-index]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseChapterArgs(args)
		if err != nil {
			return err
		}
		ensureServer()

		var download domain.DownloadSnapshot
		if err := newAPIClient().get(downloadPath(key), &download); err != nil {
			return err
		}

		fmt.Printf("Download Details:\n")
		fmt.Printf("  Chapter:  %s\n", download.Key())
		if download.Chapter != nil {
			fmt.Printf("  Name:     %s\n", download.Chapter.Name)
			if download.Chapter.HasPageCount() {
				fmt.Printf("  Pages:    %d\n", *download.Chapter.PageCount)
			}
		}
		fmt.Printf("  State:    %s\n", download.State)
		fmt.Printf("  Progress: %.0f%%\n", download.Progress*100)
		fmt.Printf("  Created:  %s\n", download.CreatedAt.Format("2006-01-02 15:04:05"))
		if download.Error != "" {
			fmt.Printf("  Error:    %s\n", download.Error)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		var stats domain.DownloadStats
		if err := newAPIClient().get("/api/v1/downloads/stats", &stats); err != nil {
			return err
		}

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:       %d\n", stats.Total)
		fmt.Printf("  Queued:      %d\n", stats.Queued)
		fmt.Printf("  Downloading: %d\n", stats.Downloading)
		fmt.Printf("  Finished:    %d\n", stats.Finished)
		fmt.Printf("  Error:       %d\n", stats.Error)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the downloader",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		if err := newAPIClient().post("/api/v1/downloader/start", nil, nil); err != nil {
			return err
		}
		fmt.Println("Downloader started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the downloader after the current page",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		if err := newAPIClient().post("/api/v1/downloader/stop", nil, nil); err != nil {
			return err
		}
		fmt.Println("Stop requested")
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [manga-id] [chapter-index]",
	Short: "Retry a failed download",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseChapterArgs(args)
		if err != nil {
			return err
		}
		ensureServer()

		if err := newAPIClient().post(downloadPath(key)+"/retry", nil, nil); err != nil {
			return err
		}
		fmt.Println("Download queued for retry")
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [manga-id] [chapter-index]",
	Short: "Remove a chapter from the queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseChapterArgs(args)
		if err != nil {
			return err
		}
		ensureServer()

		if err := newAPIClient().delete(downloadPath(key), nil); err != nil {
			return err
		}
		fmt.Println("Download removed")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished chapters from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		var result struct {
			Removed int `json:"removed"`
		}
		if err := newAPIClient().delete("/api/v1/downloads/finished", &result); err != nil {
			return err
		}
		fmt.Printf("Removed %d finished chapter(s)\n", result.Removed)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "Show server logs (queue, download, web, error)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")
		date, _ := cmd.Flags().GetString("date")

		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))
		if date != "" {
			query.Set("date", date)
		}

		path := "/api/v1/logs/" + url.PathEscape(args[0])
		if search != "" {
			path += "/search"
			query.Set("q", search)
		}

		var result struct {
			Entries []struct {
				Timestamp string                 `json:"timestamp"`
				Level     string                 `json:"level"`
				Message   string                 `json:"message"`
				Fields    map[string]interface{} `json:"fields"`
			} `json:"entries"`
		}
		if err := newAPIClient().get(path+"?"+query.Encode(), &result); err != nil {
			return err
		}

		for _, e := range result.Entries {
			fmt.Printf("%s %-5s %s", e.Timestamp, strings.ToUpper(e.Level), e.Message)
			for k, v := range e.Fields {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow queue changes live",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/api/v1/downloads/ws"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		for {
			var event domain.QueueEvent
			if err := conn.ReadJSON(&event); err != nil {
				return err
			}

			running := "idle"
			if event.Running {
				running = "running"
			}
			fmt.Printf("[%s] downloader %s: %d queued, %d downloading, %d finished, %d error\n",
				event.Timestamp.Format("15:04:05"), running,
				event.Stats.Queued, event.Stats.Downloading, event.Stats.Finished, event.Stats.Error)
			for _, d := range event.Queue {
				if d.State == domain.StateDownloading {
					fmt.Printf("  %s %3.0f%%\n", d.Key(), d.Progress*100)
				}
			}
		}
	},
}

func init() {
	listCmd.Flags().StringP("state", "s", "", "Filter by state (queued, downloading, finished, error)")
	logsCmd.Flags().StringP("search", "q", "", "Only show entries containing this text")
	logsCmd.Flags().IntP("limit", "n", 50, "Number of entries")
	logsCmd.Flags().StringP("date", "d", "", "Day to read (YYYY-MM-DD), defaults to today")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

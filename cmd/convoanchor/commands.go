package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/convoanchor/internal/config"
	"github.com/kalambet/convoanchor/internal/conversation"
)

// --- scheduler ---

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Operate the ingestion scheduler",
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/scheduler/status")
		if err != nil {
			return err
		}

		var st struct {
			Running                  bool   `json:"is_running"`
			LastFetchTime            string `json:"last_fetch_time"`
			FetchIntervalHours       int    `json:"fetch_interval_hours"`
			MaxConversationsPerFetch int    `json:"max_conversations_per_fetch"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		state := "stopped"
		if st.Running {
			state = "running"
		}
		printStatus("Scheduler", "%s", state)
		printStatus("Interval", "%dh", st.FetchIntervalHours)
		printStatus("Batch size", "%d", st.MaxConversationsPerFetch)
		if st.LastFetchTime != "" {
			printStatus("Last fetch", "%s", st.LastFetchTime)
		}
		return nil
	},
}

func schedulerControlCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.post(path, nil)
			if err != nil {
				return err
			}

			var result struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}

			if result.Success {
				printSuccess("%s", result.Message)
			} else {
				printWarning("%s", result.Message)
			}
			return nil
		},
	}
}

var schedulerFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one ingestion cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/api/scheduler/fetch", nil)
		if err != nil {
			return err
		}

		var res struct {
			Skipped   bool `json:"skipped"`
			Fetched   int  `json:"fetched"`
			New       int  `json:"new"`
			Processed int  `json:"processed"`
			Failed    int  `json:"failed"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.Skipped {
			printWarning("fetch skipped: rate limited")
			return nil
		}
		printSuccess("fetched %d, %d new, %d processed, %d failed",
			res.Fetched, res.New, res.Processed, res.Failed)
		return nil
	},
}

var schedulerConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Update scheduler interval and batch size",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		max, _ := cmd.Flags().GetInt("max")

		if interval == 0 && max == 0 {
			return fmt.Errorf("at least one of --interval or --max is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/api/scheduler/config", map[string]int{
			"fetch_interval_hours":        interval,
			"max_conversations_per_fetch": max,
		})
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		sentiment, _ := cmd.Flags().GetString("sentiment")
		minQuality, _ := cmd.Flags().GetString("min-quality")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		path := fmt.Sprintf("/api/conversations?limit=%d", limit)
		if user != "" {
			path += "&user_id=" + user
		}
		if sentiment != "" {
			path += "&sentiment=" + sentiment
		}
		if minQuality != "" {
			path += "&min_quality=" + minQuality
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var convs []struct {
			ID             string               `json:"id"`
			ExternalID     string               `json:"external_id"`
			Summary        conversation.Summary `json:"summary"`
			SentimentLabel string               `json:"sentiment_label"`
			QualityScore   float64              `json:"quality_score"`
			AnchorID       int64                `json:"anchor_id"`
			TokenID        int64                `json:"token_id"`
		}
		if err := decodeJSON(resp, &convs); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(convs)
		}

		if len(convs) == 0 {
			printWarning("no conversations found")
			return nil
		}
		for _, c := range convs {
			fmt.Fprintf(os.Stdout, "%s  %-24s  %-8s  q=%.2f  anchor=%d  token=%d\n",
				c.ID, c.Summary.Title, c.SentimentLabel, c.QualityScore, c.AnchorID, c.TokenID)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/conversations/" + args[0])
		if err != nil {
			return err
		}

		var conv any
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	},
}

var conversationsReanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <id>",
	Short: "Re-run analytics over a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/api/conversations/"+args[0]+"/reanalyze", nil)
		if err != nil {
			return err
		}

		var res struct {
			SentimentLabel  string  `json:"sentiment_label"`
			QualityScore    float64 `json:"quality_score"`
			EngagementScore float64 `json:"engagement_score"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("reanalyzed: %s, quality %.2f, engagement %.2f",
			res.SentimentLabel, res.QualityScore, res.EngagementScore)
		return nil
	},
}

// --- tokenize / verify ---

var tokenizeCmd = &cobra.Command{
	Use:   "tokenize <id>",
	Short: "Anchor and mint a stored conversation's current content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/conversations/" + args[0])
		if err != nil {
			return err
		}

		var conv struct {
			ExternalID string               `json:"external_id"`
			Summary    conversation.Summary `json:"summary"`
			Actions    []conversation.Action `json:"actions"`
			Metadata   conversation.Metadata `json:"metadata"`
		}
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		resp, err = client.post("/api/conversations/tokenize", map[string]any{
			"record": conversation.Record{
				ExternalID: conv.ExternalID,
				Summary:    conv.Summary,
				Actions:    conv.Actions,
				Metadata:   conv.Metadata,
			},
			"owner": owner,
		})
		if err != nil {
			return err
		}

		var res struct {
			AnchorID    int64  `json:"anchor_id"`
			TokenID     int64  `json:"token_id"`
			ContentHash string `json:"content_hash"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("anchored %s as anchor %d, token %d", args[0], res.AnchorID, res.TokenID)
		printStatus("Content hash", "%s", res.ContentHash)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Verify a stored conversation against its anchored digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/conversations/" + args[0])
		if err != nil {
			return err
		}

		var conv struct {
			AnchorID   int64  `json:"anchor_id"`
			MerkleRoot string `json:"merkle_root"`
		}
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}
		if conv.AnchorID == 0 {
			return fmt.Errorf("conversation %s has no anchor", args[0])
		}

		resp, err = client.post("/api/conversations/verify", map[string]any{
			"anchor_id":    conv.AnchorID,
			"content_hash": conv.MerkleRoot,
		})
		if err != nil {
			return err
		}

		var res struct {
			Verified bool `json:"verified"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.Verified {
			printSuccess("anchor %d verified", conv.AnchorID)
		} else {
			printError("anchor %d did NOT verify", conv.AnchorID)
			return fmt.Errorf("verification failed")
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change local configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-40s %-20s (env %s)\n", k.Key, k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a config key to the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	schedulerConfigCmd.Flags().Int("interval", 0, "fetch interval in hours (1-24)")
	schedulerConfigCmd.Flags().Int("max", 0, "maximum conversations per fetch (1-1000)")
	schedulerCmd.AddCommand(schedulerStatusCmd)
	schedulerCmd.AddCommand(schedulerControlCmd("start", "Start the ingestion loop", "/api/scheduler/start"))
	schedulerCmd.AddCommand(schedulerControlCmd("stop", "Stop the ingestion loop", "/api/scheduler/stop"))
	schedulerCmd.AddCommand(schedulerFetchCmd)
	schedulerCmd.AddCommand(schedulerConfigCmd)

	conversationsListCmd.Flags().String("user", "", "filter by owning user")
	conversationsListCmd.Flags().String("sentiment", "", "filter by sentiment label")
	conversationsListCmd.Flags().String("min-quality", "", "minimum quality score")
	conversationsListCmd.Flags().Int("limit", 20, "maximum results")
	conversationsListCmd.Flags().Bool("json", false, "print raw JSON")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsReanalyzeCmd)

	tokenizeCmd.Flags().String("owner", "", "wallet to mint the token to")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

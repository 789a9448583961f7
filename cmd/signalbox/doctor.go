package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/zulandar/signalbox/internal/audit"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/incident"
	"github.com/zulandar/signalbox/internal/oncall"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and integrations",
		Long:  "Runs diagnostic checks on config, integrations (LLM, Twilio, notification channels), the automation script and the audit store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Signalbox Doctor")
	fmt.Fprintln(out, "================")

	cfg, err := config.Load(configPath)
	if err != nil {
		printCheckResult(out, checkResult{"Config", "FAIL", err.Error()})
		return fmt.Errorf("config invalid")
	}

	results := []checkResult{{"Config", "PASS", configLabel(configPath)}}
	results = append(results, configChecks(cfg)...)
	results = append(results, checkAutomation(cfg.Automation))
	results = append(results, checkAudit(cfg.Audit))

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func configLabel(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}

// configChecks reports which optional integrations are configured. None of
// them is fatal: each degrades to a logged fallback at runtime.
func configChecks(cfg *config.Config) []checkResult {
	var results []checkResult

	if cfg.Lark.EncryptKey == "" {
		results = append(results, checkResult{"Lark encryption", "WARN", "encrypt_key not set; encrypted events will be rejected"})
	} else {
		results = append(results, checkResult{"Lark encryption", "PASS", "encrypt_key set"})
	}
	if cfg.Lark.DocToken == "" {
		results = append(results, checkResult{"Q&A document", "WARN", "doc_token not set; questions get a no-access reply"})
	} else {
		results = append(results, checkResult{"Q&A document", "PASS", cfg.Lark.DocToken})
	}

	if cfg.LLM.APIKey == "" {
		results = append(results, checkResult{"LLM", "WARN", "no api key; summaries are not translated"})
	} else {
		results = append(results, checkResult{"LLM", "PASS", cfg.LLM.Model})
	}

	numbers := oncall.LoadNumbers(cfg.Oncall.Numbers)
	switch {
	case cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" || cfg.Twilio.FromNumber == "" || cfg.Twilio.PublicBaseURL == "":
		results = append(results, checkResult{"Twilio", "WARN", "missing SID/TOKEN/FROM/PUBLIC_BASE_URL; calls disabled"})
	case len(numbers) == 0:
		results = append(results, checkResult{"Twilio", "WARN", "no valid on-call numbers"})
	case cfg.Oncall.NotifyChatID == "":
		results = append(results, checkResult{"Twilio", "WARN", "oncall.notify_chat_id not set; calls are not started"})
	default:
		results = append(results, checkResult{"Twilio", "PASS", fmt.Sprintf("%d on-call number(s)", len(numbers))})
	}

	var channels []string
	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID != "" {
		channels = append(channels, "telegram")
	}
	if cfg.Notify.Slack.BotToken != "" && cfg.Notify.Slack.ChannelID != "" {
		channels = append(channels, "slack")
	}
	if cfg.Notify.Discord.BotToken != "" && cfg.Notify.Discord.ChannelID != "" {
		channels = append(channels, "discord")
	}
	if len(channels) == 0 {
		results = append(results, checkResult{"Notify", "WARN", "no secondary channels configured"})
	} else {
		results = append(results, checkResult{"Notify", "PASS", fmt.Sprint(channels)})
	}

	if _, err := incident.ParseSchedule(cfg.Incident.ReapCron); err != nil {
		results = append(results, checkResult{"Reap schedule", "FAIL", err.Error()})
	} else {
		results = append(results, checkResult{"Reap schedule", "PASS", cfg.Incident.ReapCron})
	}
	return results
}

func checkAutomation(cfg config.AutomationConfig) checkResult {
	if cfg.ScriptPath == "" {
		return checkResult{"Automation", "WARN", "script_path not set; call automation disabled"}
	}
	if _, err := os.Stat(cfg.ScriptPath); err != nil {
		return checkResult{"Automation", "FAIL", fmt.Sprintf("script not found: %s", cfg.ScriptPath)}
	}
	for _, bin := range []string{"xvfb-run", "node"} {
		if _, err := exec.LookPath(bin); err != nil {
			return checkResult{"Automation", "FAIL", bin + " not found in PATH"}
		}
	}
	return checkResult{"Automation", "PASS", cfg.ScriptPath}
}

func checkAudit(cfg config.AuditConfig) checkResult {
	if cfg.Driver == "none" {
		return checkResult{"Audit store", "WARN", "disabled"}
	}
	store, err := audit.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return checkResult{"Audit store", "FAIL", err.Error()}
	}
	store.Close()
	return checkResult{"Audit store", "PASS", cfg.Driver}
}

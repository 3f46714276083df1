// Package main provides the entry point for the Vibe Mate core: a localhost
// gateway that routes OpenAI/Anthropic compatible requests to configured
// providers, plus OAuth credential management for local coding agents.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vibemate/vibemate/internal/agent"
	"github.com/vibemate/vibemate/internal/api"
	"github.com/vibemate/vibemate/internal/auth"
	"github.com/vibemate/vibemate/internal/browser"
	"github.com/vibemate/vibemate/internal/config"
	"github.com/vibemate/vibemate/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("Vibe Mate Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var (
		loginAgent   string
		quotaAgent   string
		logoutAgent  string
		listAccounts bool
		noBrowser    bool
		dir          string
		port         int
	)

	flag.StringVar(&loginAgent, "login", "", "Login a coding agent account (codex|claude-code|gemini-cli|antigravity)")
	flag.StringVar(&quotaAgent, "quota", "", "Print the quota report for an agent account")
	flag.StringVar(&logoutAgent, "logout", "", "Remove the stored credential for an agent")
	flag.BoolVar(&listAccounts, "accounts", false, "List agent accounts and their authentication state")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.StringVar(&dir, "dir", "", "Settings directory (default ~/.vibemate)")
	flag.IntVar(&port, "port", 0, "Gateway listen port (overrides settings.json)")
	flag.Parse()

	// A local .env can supply proxy settings and debug toggles.
	_ = godotenv.Load()

	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			log.Fatalf("determine settings directory: %v", err)
		}
	}

	store := config.NewStore(dir)
	if err := store.Init(); err != nil {
		log.Fatalf("initialize settings store: %v", err)
	}

	settings := store.Snapshot()
	logging.SetDebug(settings.App.Debug)
	if err := logging.ConfigureLogOutput(settings.App.LoggingToFile, dir); err != nil {
		log.Warnf("configure log output: %v", err)
	}

	tokens := auth.NewFileTokenStore(filepath.Join(dir, "auth"))
	authService := auth.NewService(store, tokens)

	switch {
	case loginAgent != "":
		runLogin(authService, parseAgentType(loginAgent), noBrowser)
		return
	case quotaAgent != "":
		runQuota(authService, parseAgentType(quotaAgent))
		return
	case logoutAgent != "":
		if err := authService.RemoveAuth(parseAgentType(logoutAgent)); err != nil {
			log.Fatalf("remove credential: %v", err)
		}
		fmt.Printf("Removed %s credential.\n", logoutAgent)
		return
	case listAccounts:
		for _, a := range authService.ListAccounts() {
			state := "not authenticated"
			if a.Authenticated {
				state = a.Email
			}
			fmt.Printf("%-12s %s\n", a.Type, state)
		}
		return
	}

	runGateway(store, dir, port)
}

// parseAgentType accepts the canonical agent type names plus the short
// aliases people actually type.
func parseAgentType(name string) config.AgentType {
	switch name {
	case "claude":
		return config.AgentClaudeCode
	case "gemini":
		return config.AgentGeminiCLI
	default:
		return config.AgentType(name)
	}
}

func runLogin(service *auth.Service, agentType config.AgentType, noBrowser bool) {
	start, err := service.StartAuth(agentType)
	if err != nil {
		log.Fatalf("start %s login: %v", agentType, err)
	}
	fmt.Printf("Open this URL in your browser to continue:\n\n%s\n\n", start.AuthURL)
	if !noBrowser {
		browser.Open(start.AuthURL)
	}

	account, err := service.CompleteAuth(context.Background(), start.FlowID)
	if err != nil {
		log.Fatalf("complete %s login: %v", agentType, err)
	}
	fmt.Printf("Logged in to %s as %s.\n", account.Type, account.Email)
}

func runQuota(service *auth.Service, agentType config.AgentType) {
	quota, err := service.GetQuota(context.Background(), agentType)
	if err != nil {
		log.Fatalf("fetch %s quota: %v", agentType, err)
	}
	if quota.PlanType != "" {
		fmt.Printf("Plan: %s\n", quota.PlanType)
	}
	for _, e := range quota.Entries {
		fmt.Printf("  %-10s %6.2f%% used\n", e.Label, e.UsedPercent)
	}
	if len(quota.Entries) == 0 {
		fmt.Printf("  session %6.2f%% used, week %6.2f%% used\n", quota.SessionUsedPercent, quota.WeekUsedPercent)
	}
	if quota.Note != "" {
		fmt.Println(quota.Note)
	}
}

func runGateway(store *config.Store, dir string, portOverride int) {
	// Refresh the discovered agents record on startup.
	if err := store.Update(func(settings *config.Settings) {
		discovered := agent.Discover()
		for i := range discovered {
			for _, prev := range settings.CodingAgents {
				if prev.AgentType == discovered[i].AgentType {
					discovered[i].ProxyEnabled = prev.ProxyEnabled
				}
			}
		}
		settings.CodingAgents = discovered
	}); err != nil {
		log.Warnf("record discovered agents: %v", err)
	}

	server := api.NewServer(store)

	watcher := config.NewWatcher(store, func(settings config.Settings) {
		logging.SetDebug(settings.App.Debug)
		if err := logging.ConfigureLogOutput(settings.App.LoggingToFile, dir); err != nil {
			log.Warnf("configure log output: %v", err)
		}
		log.Info("settings reloaded")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		log.Warnf("watch settings file: %v", err)
	}

	port := portOverride
	if port <= 0 {
		port = store.Snapshot().App.Port
	}
	if err := server.Start(port); err != nil {
		log.Fatalf("start gateway: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	if err := server.Stop(); err != nil {
		log.Warnf("stop gateway: %v", err)
	}
}

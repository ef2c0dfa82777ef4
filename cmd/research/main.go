package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/pacing"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
)

// cliSession is the console state of a one-shot run.
type cliSession struct {
	id      string
	profile *apiclient.Profile
	company string
	domain  string
}

func (s *cliSession) SessionID() string                 { return s.id }
func (s *cliSession) Profile() *apiclient.Profile       { return s.profile }
func (s *cliSession) SelectedCompany() (string, string) { return s.company, s.domain }

func main() {
	var (
		company  = flag.String("company", "", "Company to research (required)")
		domain   = flag.String("domain", "", "Company domain (optional)")
		area     = flag.String("area", config.OverviewAreaID, "Research area id")
		sessID   = flag.String("session", "cli", "Session id sent to the backend")
		showHelp = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *showHelp || strings.TrimSpace(*company) == "" {
		fmt.Println("Research Runner")
		fmt.Println("Usage: go run cmd/research/main.go -company <name> [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  go run cmd/research/main.go -company Shopify")
		fmt.Println("  go run cmd/research/main.go -company Shopify -domain shopify.com -area decision_makers")
		if !*showHelp {
			os.Exit(2)
		}
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	areaOK := false
	for _, a := range cfg.Areas {
		if a.ID == *area {
			areaOK = true
			break
		}
	}
	if !areaOK {
		log.Fatalf("Unknown research area %q", *area)
	}

	lg := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(apiclient.Config{
		BaseURL: cfg.ResearchAPIURL,
		APIKey:  cfg.ResearchAPIKey,
		Timeout: cfg.ResearchAPITimeout,
	}, lg).ForSession(*sessID, func() {
		log.Println("Backend rejected the session")
	})

	profile, err := client.GetProfile(ctx)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	sess := &cliSession{id: *sessID, profile: profile, company: *company, domain: *domain}
	timeline := chat.NewTimeline()
	mapper := progress.NewMapper(cfg.Areas)
	manager := progress.NewManager(mapper, &pacing.Instant{}, lg)
	manager.Initialize(timeline)

	sub := timeline.Subscribe(ctx, "cli", 100)
	go printEvents(sub)

	svc := research.NewService(research.ConfigFrom(cfg), research.Deps{
		Backend:  client,
		Session:  sess,
		Timeline: timeline,
		Ledger:   chat.NewLedger(),
		Progress: manager,
		Mapper:   mapper,
		Logger:   lg,
	})

	fmt.Printf("Researching %s (%s)...\n\n", *company, *area)
	run, err := svc.StartResearch(ctx, "", *area, *company, *domain)
	if err != nil {
		log.Fatalf("Failed to start research: %v", err)
	}

	select {
	case <-run.Done():
	case <-ctx.Done():
		svc.StopAll()
	}
	_ = svc.Shutdown(context.Background())
	timeline.Close()

	if err := run.Err(); err != nil {
		fmt.Printf("\nResearch did not finish: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	for _, msg := range timeline.Messages() {
		if msg.Role != chat.RoleAssistant || msg.IsStreaming {
			continue
		}
		fmt.Println(msg.Content)
		for _, src := range msg.Sources {
			fmt.Printf("  - %s (%s)\n", src.Title, src.URL)
		}
		fmt.Println()
	}
}

func printEvents(sub *chat.Subscriber) {
	printed := make(map[string]int)
	for {
		select {
		case <-sub.Context().Done():
			return
		case evt := <-sub.Ch:
			if evt.Type != chat.EventUpdated || evt.Message == nil {
				continue
			}
			msg := evt.Message
			for i := printed[msg.ID]; i < len(msg.StreamingSteps); i++ {
				if !msg.StreamingSteps[i].Completed {
					break
				}
				fmt.Printf("  %s %s\n", msg.StreamingSteps[i].Icon, msg.StreamingSteps[i].Text)
				printed[msg.ID] = i + 1
			}
		}
	}
}

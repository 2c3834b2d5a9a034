package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/classifier"
	"loadtender/internal/config"
	"loadtender/internal/connectors"
	gmailconnector "loadtender/internal/connectors/gmail"
	imapconnector "loadtender/internal/connectors/imap"
	"loadtender/internal/listener"
	"loadtender/internal/pipeline"
	"loadtender/internal/profile"
	"loadtender/internal/storage"
)

type app struct {
	cfg config.Config
	log *zap.Logger
	db  *storage.DB
}

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg)
	must(err)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{cfg: cfg, log: log, db: db}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "extract":
		must(a.extract(args))
	case "verify":
		must(a.verify(ctx, args))
	case "learn":
		must(a.learn(args))
	case "run":
		must(a.run(ctx, args))
	case "mail:fetch":
		must(a.mailFetch(ctx, args))
	case "mail:process":
		must(a.mailProcess(ctx, args))
	case "mail:listen":
		must(listener.NewService(db, cfg, a.classifier(), log).Run(ctx))
	case "review:submit":
		must(a.reviewSubmit(args))
	case "suggestions:list":
		must(a.suggestionsList(args))
	case "suggestions:approve":
		must(a.suggestionsApprove(args))
	case "suggestions:reject":
		must(a.suggestionsReject(args))
	case "rules:add":
		must(a.rulesAdd(args))
	case "rules:deprecate":
		must(a.rulesDeprecate(args))
	case "customer:add":
		must(a.customerAdd(args))
	case "profile:import":
		must(a.profileImport(args))
	case "profile:export":
		must(a.profileExport(args))
	case "export:xlsx":
		must(a.exportXLSX(args))
	default:
		usage()
		os.Exit(1)
	}
}

// classifier returns nil unless an endpoint is configured, so the pipeline
// falls back to candidate-only drafts.
func (a *app) classifier() classifier.Classifier {
	client := classifier.NewClient(a.cfg, a.log)
	if !client.Configured() {
		return nil
	}
	return client
}

func (a *app) compiledProfile(customerID, file string) (*profile.Compiled, internal.CustomerProfile, error) {
	var p internal.CustomerProfile
	switch {
	case file != "":
		blob, err := os.ReadFile(file)
		if err != nil {
			return nil, p, eris.Wrapf(err, "read %s", file)
		}
		if p, err = profile.Decode(blob); err != nil {
			return nil, p, err
		}
	case customerID != "":
		var err error
		if p, err = a.db.LoadProfile(customerID); err != nil {
			return nil, p, err
		}
	}
	return profile.Compile(p), p, nil
}

func makeConnector(ctx context.Context, cfg config.Config, log *zap.Logger, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg, log)
	case "imap":
		return imapconnector.NewConnector(cfg, log)
	default:
		return nil, eris.Errorf("unsupported provider: %s", provider)
	}
}

func readJSON(path string, v any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	return eris.Wrapf(json.Unmarshal(blob, v), "decode %s", path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() {
	fmt.Println("usage: tender <command>")
	fmt.Println("commands:")
	fmt.Println("  extract --input=tender.txt [--type=txt|html|pdf|xlsx|eml] [--customer=id|--profile=rules.yaml]")
	fmt.Println("  verify --input=tender.txt --draft=draft.json [--customer=id|--profile=rules.yaml]")
	fmt.Println("  learn --input=tender.txt --original=orig.json --final=final.json [--customer=id|--profile=rules.yaml]")
	fmt.Println("  run --input=tender.pdf --output=review.xlsx [--customer=id|--profile=rules.yaml]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  review:submit --emailId=1 --final=final.json")
	fmt.Println("  suggestions:list --customer=id [--status=pending|approved|rejected]")
	fmt.Println("  suggestions:approve --id=1")
	fmt.Println("  suggestions:reject --id=1")
	fmt.Println("  rules:add --customer=id --kind=label|regex|value --subtype=po [--label=...|--pattern=...] [--scope=global] [--priority=0]")
	fmt.Println("  rules:deprecate --customer=id --pattern=...")
	fmt.Println("  customer:add --id=acme --name=... --domain=acme.com")
	fmt.Println("  profile:import --file=rules.yaml")
	fmt.Println("  profile:export --customer=id [--out=rules.yaml]")
	fmt.Println("  export:xlsx --emailId=1 --out=./out/review.xlsx")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func classifierRequest(customerID string, doc pipeline.Document, candidates []internal.Candidate) classifier.Request {
	return classifier.Request{CustomerID: customerID, Subject: doc.Subject, Text: doc.Text, Candidates: candidates}
}

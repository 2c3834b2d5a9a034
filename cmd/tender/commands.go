package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"loadtender/internal"
	"loadtender/internal/connectors"
	"loadtender/internal/extract"
	"loadtender/internal/learn"
	"loadtender/internal/pipeline"
	"loadtender/internal/profile"
	"loadtender/internal/verify"
)

type docFlags struct {
	input    *string
	kind     *string
	customer *string
	profile  *string
}

func addDocFlags(fs *flag.FlagSet) docFlags {
	return docFlags{
		input:    fs.String("input", "", "tender document path"),
		kind:     fs.String("type", "", "txt|html|pdf|xlsx|eml (default: from extension)"),
		customer: fs.String("customer", "", "customer id whose stored rules apply"),
		profile:  fs.String("profile", "", "YAML rule snapshot instead of stored rules"),
	}
}

func (a *app) document(f docFlags) (pipeline.Document, *profile.Compiled, internal.CustomerProfile, error) {
	if strings.TrimSpace(*f.input) == "" {
		return pipeline.Document{}, nil, internal.CustomerProfile{}, eris.New("--input is required")
	}
	doc, err := pipeline.DocumentFromFile(*f.input, *f.kind)
	if err != nil {
		return doc, nil, internal.CustomerProfile{}, err
	}
	rules, p, err := a.compiledProfile(*f.customer, *f.profile)
	return doc, rules, p, err
}

func (a *app) extract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	df := addDocFlags(fs)
	_ = fs.Parse(args)

	doc, rules, _, err := a.document(df)
	if err != nil {
		return err
	}
	return printJSON(extract.New(a.cfg, extract.WithLogger(a.log)).Extract(doc.Text, rules))
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	df := addDocFlags(fs)
	draftPath := fs.String("draft", "", "draft shipment JSON (default: classifier or candidates)")
	_ = fs.Parse(args)

	doc, rules, p, err := a.document(df)
	if err != nil {
		return err
	}
	res := extract.New(a.cfg, extract.WithLogger(a.log)).Extract(doc.Text, rules)

	var draft internal.StructuredShipment
	if *draftPath != "" {
		if err := readJSON(*draftPath, &draft); err != nil {
			return err
		}
	} else if draft, err = a.draft(ctx, p.CustomerID, doc, res.Candidates); err != nil {
		return err
	}

	v := verify.New(a.cfg, verify.WithLogger(a.log), verify.WithSourceType(doc.Source))
	return printJSON(v.Process(draft, res.Candidates, doc.Text, nil))
}

func (a *app) draft(ctx context.Context, customerID string, doc pipeline.Document, candidates []internal.Candidate) (internal.StructuredShipment, error) {
	cls := a.classifier()
	if cls == nil {
		return pipeline.DraftFromCandidates(candidates, doc.Text), nil
	}
	return cls.Classify(ctx, classifierRequest(customerID, doc, candidates))
}

func (a *app) learn(args []string) error {
	fs := flag.NewFlagSet("learn", flag.ExitOnError)
	df := addDocFlags(fs)
	originalPath := fs.String("original", "", "shipment as produced (JSON)")
	finalPath := fs.String("final", "", "shipment after review (JSON)")
	_ = fs.Parse(args)
	if *originalPath == "" || *finalPath == "" {
		return eris.New("--original and --final are required")
	}

	doc, rules, p, err := a.document(df)
	if err != nil {
		return err
	}
	var original, final internal.StructuredShipment
	if err := readJSON(*originalPath, &original); err != nil {
		return err
	}
	if err := readJSON(*finalPath, &final); err != nil {
		return err
	}

	candidates := extract.New(a.cfg, extract.WithLogger(a.log)).Extract(doc.Text, rules).Candidates
	d := learn.New(a.cfg, learn.WithLogger(a.log))
	return printJSON(map[string]any{
		"suggestions": learn.FilterLearned(d.DetectReclassifications(original, final, candidates, doc.Text), p),
		"events":      d.DetectAllEdits(original, final, candidates, doc.Text),
	})
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	df := addDocFlags(fs)
	output := fs.String("output", "", "review workbook path")
	_ = fs.Parse(args)
	if *output == "" {
		return eris.New("--output is required")
	}

	doc, rules, p, err := a.document(df)
	if err != nil {
		return err
	}
	res := extract.New(a.cfg, extract.WithLogger(a.log)).Extract(doc.Text, rules)
	draft, err := a.draft(ctx, p.CustomerID, doc, res.Candidates)
	if err != nil {
		return err
	}
	verified := verify.New(a.cfg, verify.WithLogger(a.log), verify.WithSourceType(doc.Source)).Process(draft, res.Candidates, doc.Text, nil)

	export := pipeline.ReviewExport{
		Extraction:   internal.ExtractionRecord{CustomerID: p.CustomerID, Text: doc.Text, Result: res},
		Verification: internal.VerificationRecord{Draft: draft, Result: verified},
	}
	if err := pipeline.ExportReviewXLSX(export, *output); err != nil {
		return err
	}
	fmt.Printf("run done candidates=%d warnings=%d output=%s\n", len(res.Candidates), len(verified.Warnings), *output)
	return nil
}

func (a *app) mailFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mail:fetch", flag.ExitOnError)
	provider := fs.String("provider", "gmail", "gmail|imap")
	label := fs.String("label", "INBOX", "mailbox/label")
	max := fs.Int("max", 50, "max messages")
	_ = fs.Parse(args)

	conn, err := makeConnector(ctx, a.cfg, a.log, *provider)
	if err != nil {
		return err
	}
	result, err := connectors.NewFetchService(a.db, a.cfg.RawMailDir, conn, a.log).FetchAndStore(ctx, *label, *max)
	if err != nil {
		return err
	}
	fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d known=%d\n", *provider, result.Fetched, result.Stored, result.Known)
	return nil
}

func (a *app) mailProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mail:process", flag.ExitOnError)
	provider := fs.String("provider", "gmail", "gmail|imap")
	messageID := fs.String("messageId", "", "specific message-id")
	batch := fs.Int("batch", 20, "batch size")
	_ = fs.Parse(args)

	processor := pipeline.NewProcessingService(a.db, a.cfg, a.classifier(), a.log)
	if strings.TrimSpace(*messageID) != "" {
		res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
		if err != nil {
			return err
		}
		fmt.Printf("processed email id=%d tender=%t candidates=%d warnings=%d\n", res.EmailID, res.IsTender, res.Candidates, res.Warnings)
		return nil
	}
	n, err := processor.ProcessPending(ctx, *batch, *provider)
	if err != nil {
		return err
	}
	fmt.Printf("processed pending emails=%d\n", n)
	return nil
}

func (a *app) reviewSubmit(args []string) error {
	fs := flag.NewFlagSet("review:submit", flag.ExitOnError)
	emailID := fs.Int("emailId", 0, "internal email id")
	finalPath := fs.String("final", "", "reviewed shipment JSON")
	_ = fs.Parse(args)
	if *emailID == 0 || *finalPath == "" {
		return eris.New("--emailId and --final are required")
	}

	var final internal.StructuredShipment
	if err := readJSON(*finalPath, &final); err != nil {
		return err
	}
	res, err := pipeline.NewReviewService(a.db, a.cfg, a.log).SubmitCorrection(*emailID, final)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"verification_id": res.VerificationID,
		"customer_id":     res.CustomerID,
		"suggestions":     res.Suggestions,
		"events":          res.Events,
	})
}

func (a *app) suggestionsList(args []string) error {
	fs := flag.NewFlagSet("suggestions:list", flag.ExitOnError)
	customer := fs.String("customer", "", "customer id")
	status := fs.String("status", string(internal.SuggestionPending), "pending|approved|rejected|all")
	_ = fs.Parse(args)
	if *customer == "" {
		return eris.New("--customer is required")
	}
	st := internal.SuggestionStatus(*status)
	if *status == "all" {
		st = ""
	}
	recs, err := a.db.ListSuggestions(*customer, st)
	if err != nil {
		return err
	}
	for _, r := range recs {
		what := r.Rule.Pattern
		if r.Rule.Type == internal.RuleTypeLabel {
			what = r.Rule.Label
		}
		fmt.Printf("%d\t%s\t%s\t%s -> %s\t(e.g. %s)\n", r.ID, r.Status, r.Rule.Type, what, r.Rule.Subtype, r.Rule.ExampleValue)
	}
	return nil
}

func idFlag(name string, args []string) (int, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.Int("id", 0, "suggestion id")
	_ = fs.Parse(args)
	if *id == 0 {
		return 0, eris.New("--id is required")
	}
	return *id, nil
}

func (a *app) suggestionsApprove(args []string) error {
	id, err := idFlag("suggestions:approve", args)
	if err != nil {
		return err
	}
	rec, err := pipeline.NewReviewService(a.db, a.cfg, a.log).Approve(id)
	if err != nil {
		return err
	}
	fmt.Printf("approved suggestion %d: %s rule for customer %s\n", rec.ID, rec.Rule.Type, rec.CustomerID)
	return nil
}

func (a *app) suggestionsReject(args []string) error {
	id, err := idFlag("suggestions:reject", args)
	if err != nil {
		return err
	}
	if err := pipeline.NewReviewService(a.db, a.cfg, a.log).Reject(id); err != nil {
		return err
	}
	fmt.Printf("rejected suggestion %d\n", id)
	return nil
}

func (a *app) rulesAdd(args []string) error {
	fs := flag.NewFlagSet("rules:add", flag.ExitOnError)
	customer := fs.String("customer", "", "customer id")
	kind := fs.String("kind", "value", "label|regex|value")
	subtype := fs.String("subtype", "", "reference subtype")
	label := fs.String("label", "", "label text (label rules)")
	pattern := fs.String("pattern", "", "pattern (regex and value rules)")
	scope := fs.String("scope", string(internal.ScopeGlobal), "global|header|pickup|delivery")
	priority := fs.Int("priority", 0, "value rule priority")
	_ = fs.Parse(args)
	if *customer == "" || *subtype == "" {
		return eris.New("--customer and --subtype are required")
	}
	st := internal.ReferenceSubtype(*subtype)
	switch *kind {
	case "label":
		return a.db.AddLabelRule(*customer, internal.ReferenceLabelRule{Label: *label, Subtype: st})
	case "regex":
		return a.db.AddRegexRule(*customer, internal.ReferenceRegexRule{Pattern: *pattern, Subtype: st})
	case "value":
		return a.db.AddValueRule(*customer, internal.ReferenceValueRule{
			Pattern:  *pattern,
			Subtype:  st,
			Scope:    internal.RuleScope(*scope),
			Priority: *priority,
		})
	default:
		return eris.Errorf("unknown rule kind %q", *kind)
	}
}

func (a *app) rulesDeprecate(args []string) error {
	fs := flag.NewFlagSet("rules:deprecate", flag.ExitOnError)
	customer := fs.String("customer", "", "customer id")
	pattern := fs.String("pattern", "", "value rule pattern")
	_ = fs.Parse(args)
	if *customer == "" || *pattern == "" {
		return eris.New("--customer and --pattern are required")
	}
	n, err := a.db.DeprecateValueRule(*customer, *pattern)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Errorf("no value rule %q for customer %s", *pattern, *customer)
	}
	fmt.Printf("deprecated %d rule(s)\n", n)
	return nil
}

func (a *app) customerAdd(args []string) error {
	fs := flag.NewFlagSet("customer:add", flag.ExitOnError)
	id := fs.String("id", "", "customer id")
	name := fs.String("name", "", "display name")
	domain := fs.String("domain", "", "sender e-mail domain")
	_ = fs.Parse(args)
	if *id == "" {
		return eris.New("--id is required")
	}
	return a.db.UpsertCustomer(*id, *name, *domain)
}

func (a *app) profileImport(args []string) error {
	fs := flag.NewFlagSet("profile:import", flag.ExitOnError)
	file := fs.String("file", "", "YAML rule snapshot")
	_ = fs.Parse(args)
	if *file == "" {
		return eris.New("--file is required")
	}
	blob, err := os.ReadFile(*file)
	if err != nil {
		return eris.Wrapf(err, "read %s", *file)
	}
	p, err := profile.Decode(blob)
	if err != nil {
		return err
	}
	if err := a.db.ImportProfile(p); err != nil {
		return err
	}
	fmt.Printf("imported profile %s labels=%d regexes=%d values=%d\n", p.CustomerID, len(p.LabelRules), len(p.RegexRules), len(p.ValueRules))
	return nil
}

func (a *app) profileExport(args []string) error {
	fs := flag.NewFlagSet("profile:export", flag.ExitOnError)
	customer := fs.String("customer", "", "customer id")
	out := fs.String("out", "", "output path (default: stdout)")
	_ = fs.Parse(args)
	if *customer == "" {
		return eris.New("--customer is required")
	}
	p, err := a.db.LoadProfile(*customer)
	if err != nil {
		return err
	}
	blob, err := profile.Encode(p)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = os.Stdout.Write(blob)
		return err
	}
	return eris.Wrapf(os.WriteFile(*out, blob, 0o644), "write %s", *out)
}

func (a *app) exportXLSX(args []string) error {
	fs := flag.NewFlagSet("export:xlsx", flag.ExitOnError)
	emailID := fs.Int("emailId", 0, "internal email id")
	out := fs.String("out", "", "output xlsx path")
	_ = fs.Parse(args)
	if *emailID == 0 || strings.TrimSpace(*out) == "" {
		return eris.New("--emailId and --out are required")
	}

	email, err := a.db.GetEmailByID(*emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return eris.Errorf("email %d not found", *emailID)
	}
	review, err := pipeline.LoadReviewExport(a.db, *email)
	if err != nil {
		return err
	}
	if review == nil {
		return eris.Errorf("email %d has no verification", *emailID)
	}
	if err := pipeline.ExportReviewXLSX(*review, *out); err != nil {
		return err
	}
	fmt.Printf("exported email %d to %s\n", *emailID, *out)
	return nil
}

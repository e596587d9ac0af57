// Command envctl inspects the environment routing of a shopcore deployment:
// it resolves labels, checks both backends, and moves snapshots between
// environments through the blob store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"shopcore/internal/blob"
	"shopcore/internal/config"
	"shopcore/internal/core"
	"shopcore/internal/environment"
	"shopcore/internal/snapshot"
	"shopcore/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: envctl [-config path] <command> [flags]

commands:
  resolve  print the label selected for the given signals
  check    open both backends and report their record counts
  export   archive a label to the blob store
  import   restore an archive into a label
  seed     export one label and import it into the other
`

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("envctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = io.WriteString(stderr, usage) }
	var configPath string
	fs.StringVar(&configPath, "config", "", "path to shopcore.yaml (default: search $SHOPCORE_CONFIG, ./shopcore.yaml, /etc/shopcore/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "envctl: %v\n", err)
		return 1
	}
	ctx := context.Background()
	svc, err := core.NewService(ctx, cfg, core.WithLogger(cfg.Log.NewLogger(stderr)))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "envctl: %v\n", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	a := &app{svc: svc, stdout: stdout, stderr: stderr}
	var run func(context.Context, []string) error
	switch cmd {
	case "resolve":
		run = a.resolve
	case "check":
		run = a.check
	case "export":
		run = a.export
	case "import":
		run = a.importArchive
	case "seed":
		run = a.seed
	default:
		_, _ = fmt.Fprintf(stderr, "envctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err := run(ctx, rest); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "envctl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// errUsage marks argument errors already reported by the flag set.
var errUsage = errors.New("usage")

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, _, err := config.Load()
		return cfg, err
	}
	cfg, _, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type app struct {
	svc    *core.Service
	stdout io.Writer
	stderr io.Writer
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("envctl "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parseLabel(raw string) (domain.Label, error) {
	label, ok := domain.ParseLabel(raw)
	if !ok {
		return "", fmt.Errorf("%q: %w", raw, domain.ErrUnknownLabel)
	}
	return label, nil
}

func (a *app) exporter(ctx context.Context) (*snapshot.Exporter, error) {
	cfg := a.svc.Config()
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	return snapshot.New(a.svc.Registry(), store, snapshot.WithPrefix(cfg.Snapshot.Prefix)), nil
}

func (a *app) resolve(ctx context.Context, args []string) error {
	fs := a.flags("resolve")
	param := fs.String("param", "", "value of the environment query parameter")
	header := fs.String("header", "", "value of the environment header")
	session := fs.String("session", "", "session identifier")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	label := a.svc.Resolver().Resolve(ctx, environment.NewRequest(*param, *header, *session))
	_, err := fmt.Fprintln(a.stdout, label)
	return err
}

func (a *app) check(ctx context.Context, args []string) error {
	fs := a.flags("check")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	var failed []string
	for _, label := range domain.Labels() {
		b, _ := a.svc.Config().Backend(label)
		c, err := a.svc.Registry().Open(ctx, label)
		if err != nil {
			_, _ = fmt.Fprintf(a.stdout, "%s\t%s\tunavailable\t%v\n", label, b.Driver, err)
			failed = append(failed, label.String())
			continue
		}
		records, err := c.Backend().Export(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(a.stdout, "%s\t%s\tunreadable\t%v\n", label, b.Driver, err)
			failed = append(failed, label.String())
			continue
		}
		_, _ = fmt.Fprintf(a.stdout, "%s\t%s\tok\t%d records\n", label, b.Driver, records.Count())
	}
	if len(failed) > 0 {
		return fmt.Errorf("backends failing: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := a.flags("export")
	env := fs.String("env", "", "label to archive (dev or prod)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	label, err := parseLabel(*env)
	if err != nil {
		return err
	}
	x, err := a.exporter(ctx)
	if err != nil {
		return err
	}
	info, err := x.Export(ctx, label)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, info.Key)
	return err
}

func (a *app) importArchive(ctx context.Context, args []string) error {
	fs := a.flags("import")
	env := fs.String("env", "", "label to restore into (dev or prod)")
	key := fs.String("key", "", "archive key")
	latest := fs.String("latest", "", "use the newest archive of this label instead of -key")
	force := fs.Bool("force", false, "allow overwriting prod")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	label, err := parseLabel(*env)
	if err != nil {
		return err
	}
	if (*key == "") == (*latest == "") {
		_, _ = fmt.Fprintln(a.stderr, "envctl import: exactly one of -key or -latest is required")
		return errUsage
	}
	x, err := a.exporter(ctx)
	if err != nil {
		return err
	}
	if *latest != "" {
		from, err := parseLabel(*latest)
		if err != nil {
			return err
		}
		info, err := x.Latest(ctx, from)
		if err != nil {
			return err
		}
		*key = info.Key
	}
	n, err := x.Import(ctx, *key, label, *force)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "imported %d records from %s into %s\n", n, *key, label)
	return err
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := a.flags("seed")
	from := fs.String("from", domain.Prod.String(), "source label")
	to := fs.String("to", domain.Dev.String(), "target label")
	force := fs.Bool("force", false, "allow overwriting prod")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	src, err := parseLabel(*from)
	if err != nil {
		return err
	}
	dst, err := parseLabel(*to)
	if err != nil {
		return err
	}
	x, err := a.exporter(ctx)
	if err != nil {
		return err
	}
	info, n, err := x.Seed(ctx, src, dst, *force)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "seeded %s from %s: %d records via %s\n", dst, src, n, info.Key)
	return err
}

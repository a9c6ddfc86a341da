package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"gabizap/internal/auth/session"
	"gabizap/internal/capture"
	"gabizap/internal/capture/device/imagefile"
	"gabizap/internal/capture/ingest"
	"gabizap/internal/platform/config"
	"gabizap/internal/platform/httpclient"
)

var (
	errUsage        = errors.New("usage")
	errAccessDenied = errors.New("access denied")
)

const usage = `usage: gabizap [-env file] <command> [flags]

commands:
  login   -email addr -password secret
  logout
  status
  restore
  scan    -type iris|hand -image path [-cadence 100ms]
  health
`

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("gabizap", flag.ContinueOnError)
	global.SetOutput(stderr)
	envFile := global.String("env", ".env", "dotenv file loaded before reading the environment")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		global.Usage()
		return errUsage
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.log.Error("shutdown", "error", err)
		}
	}()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest, stdout, stderr)
	case "logout":
		return a.logout(ctx, stdout)
	case "status":
		return a.status(ctx, stdout)
	case "restore":
		return a.restore(ctx, stdout)
	case "scan":
		return a.scan(ctx, rest, stdout, stderr)
	case "health":
		return a.health(ctx, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		global.Usage()
		return errUsage
	}
}

func (a *app) login(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := a.session.Login(ctx, *email, *password); err != nil {
		fmt.Fprintln(stdout, describe(err))
		return err
	}
	fmt.Fprintln(stdout, "authenticated")
	return nil
}

func (a *app) logout(ctx context.Context, stdout io.Writer) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "logged out")
	return nil
}

func (a *app) restore(ctx context.Context, stdout io.Writer) error {
	if err := a.session.Restore(ctx); err != nil {
		fmt.Fprintln(stdout, describe(err))
		return err
	}
	if a.session.IsAuthenticated() {
		fmt.Fprintln(stdout, "session restored")
	} else {
		fmt.Fprintln(stdout, "no session")
	}
	return nil
}

func (a *app) status(ctx context.Context, stdout io.Writer) error {
	if err := a.session.Restore(ctx); err != nil {
		fmt.Fprintln(stdout, describe(err))
		return err
	}
	if !a.session.IsAuthenticated() {
		fmt.Fprintln(stdout, "not authenticated")
		return nil
	}
	if user, ok := a.session.User(); ok {
		fmt.Fprintf(stdout, "authenticated as %s\n", user.Email)
		return nil
	}
	fmt.Fprintf(stdout, "authenticated (restore policy %s)\n", a.session.Policy())
	return nil
}

func (a *app) scan(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	kindFlag := fs.String("type", string(capture.KindIris), "capture type: iris or hand")
	imagePath := fs.String("image", "", "PNG or JPEG file used as the camera frame")
	cadence := fs.Duration("cadence", capture.DefaultCadence, "interval between progress advances")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	kind, err := capture.ParseKind(*kindFlag)
	if err != nil {
		return err
	}
	if *imagePath == "" {
		fmt.Fprintln(stderr, "scan: -image is required")
		return errUsage
	}

	if err := a.session.Restore(ctx); err != nil {
		fmt.Fprintln(stdout, describe(err))
		return err
	}
	if !a.session.IsAuthenticated() {
		fmt.Fprintln(stdout, "not authenticated: run gabizap login first")
		return ingest.ErrUnauthenticated
	}

	w := capture.New(imagefile.New(*imagePath), a.ingest,
		capture.WithKind(kind),
		capture.WithCadence(*cadence),
		capture.WithLogger(a.log),
		capture.WithMetrics(a.metrics),
		capture.WithOnProgress(func(p int) {
			if p%25 == 0 {
				fmt.Fprintf(stdout, "scanning %s... %d%%\n", kind, p)
			}
		}),
	)
	defer w.Close()

	if err := w.Activate(ctx); err != nil {
		fmt.Fprintln(stdout, "camera unavailable:", err)
		return err
	}
	cycle, err := w.Start(ctx)
	if err != nil {
		return err
	}
	res, err := cycle.Wait(ctx)
	if err != nil {
		return err
	}

	if res.Success {
		fmt.Fprintf(stdout, "IDENTITY CONFIRMED (%s descriptor %s, %d values)\n",
			kind, res.Descriptor.Version, len(res.Descriptor.Embedding))
		return nil
	}
	fmt.Fprintf(stdout, "ACCESS DENIED: %s\n", describe(res.Err))
	return errAccessDenied
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

func (a *app) health(ctx context.Context, stdout io.Writer) error {
	checks := []healthCheck{
		{name: "api-gateway", check: a.creds.Health},
		{name: "iris-engine", check: func(ctx context.Context) error { return a.ingest.Health(ctx, capture.KindIris) }},
		{name: "hand-engine", check: func(ctx context.Context) error { return a.ingest.Health(ctx, capture.KindHand) }},
	}

	results := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = c.check(ctx)
			return results[i]
		})
	}
	err := g.Wait()

	for i, c := range checks {
		if results[i] != nil {
			fmt.Fprintf(stdout, "%-12s %s\n", c.name, describe(results[i]))
			continue
		}
		fmt.Fprintf(stdout, "%-12s ok\n", c.name)
	}
	return err
}

// describe turns an error into the one-line message shown to the operator.
func describe(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrMissingCredentials):
		return "email and password are required"
	case errors.Is(err, ingest.ErrNotDetected):
		return "no biometric detected, try again"
	case errors.Is(err, ingest.ErrUnauthenticated):
		return "not authenticated"
	case errors.Is(err, capture.ErrNoFrame):
		return "camera has not produced a frame yet"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "camera unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	switch httpclient.GetCategory(err) {
	case httpclient.CategoryRejected:
		var herr *httpclient.Error
		if errors.As(err, &herr) && herr.Message != "" {
			return "rejected: " + herr.Message
		}
		return "rejected by backend"
	case httpclient.CategoryTimeout:
		return "backend did not answer in time"
	case httpclient.CategoryTransport:
		return "cannot reach backend, check GABIZAP_API_URL"
	case httpclient.CategoryUnavailable:
		return "backend unavailable, try again later"
	case httpclient.CategoryMalformed:
		return "unexpected response from backend"
	default:
		return err.Error()
	}
}

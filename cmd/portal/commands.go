package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/portal"
	"github.com/khgapparov/flipApp/internal/retry"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprint(os.Stderr, `usage: portal <command> [flags]

commands:
  login      --username --password
  register   --username --email --password
  anon
  token      --token
  logout
  whoami
  status
  projects   list | get <id> | create --name ... | delete <id>...
  updates    list --project | create --project --title [--description]
  gallery    list --project | upload --project --file [--caption --room --stage]
  chat       list --project | send --project --message
  watch      --project [--event entity:action,...]
`)
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "anon":
		return a.printJSON(a.portal.Auth.AnonymousLogin(ctx))
	case "token":
		return a.token(ctx, args)
	case "logout":
		return a.portal.Auth.Logout(ctx)
	case "whoami":
		if _, err := a.portal.Auth.Require(ctx); err != nil {
			return err
		}
		return a.printJSON(a.portal.Users.Me(ctx))
	case "status":
		return a.status(ctx)
	case "projects":
		return a.projects(ctx, args)
	case "updates":
		return a.updates(ctx, args)
	case "gallery":
		return a.gallery(ctx, args)
	case "chat":
		return a.chat(ctx, args)
	case "watch":
		return a.watch(ctx, args)
	default:
		return errUsage
	}
}

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	username := fs.StringP("username", "u", "", "account username")
	password := fs.StringP("password", "p", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errUsage
	}
	return a.printJSON(a.portal.Auth.Login(ctx, *username, *password))
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlags("register")
	var req portal.RegisterRequest
	fs.StringVarP(&req.Username, "username", "u", "", "account username")
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVarP(&req.Password, "password", "p", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.printJSON(a.portal.Auth.Register(ctx, req))
}

func (a *app) token(ctx context.Context, args []string) error {
	fs := newFlags("token")
	token := fs.String("token", "", "existing access token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.portal.Auth.LoginWithToken(ctx, *token)
}

func (a *app) status(ctx context.Context) error {
	report := a.checker().RunAll(ctx)

	sess, err := a.portal.Auth.Restore(ctx)
	out := map[string]any{
		"backend":       report,
		"authenticated": err == nil && sess.Authenticated(),
		"anonymous":     sess.IsAnonymous,
	}
	return a.printJSON(out, nil)
}

func (a *app) projects(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "list":
		fs := newFlags("projects list")
		status := fs.String("status", "", "filter by status")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.printJSON(read(ctx, func(ctx context.Context) ([]portal.Project, error) {
			return a.portal.Projects.List(ctx, api.Params{"status": *status})
		}))
	case "get":
		if len(args) != 1 {
			return errUsage
		}
		return a.printJSON(read(ctx, func(ctx context.Context) (*portal.Project, error) {
			return a.portal.Projects.Get(ctx, args[0])
		}))
	case "create":
		fs := newFlags("projects create")
		var in portal.ProjectInput
		fs.StringVar(&in.Name, "name", "", "project name")
		fs.StringVar(&in.Address, "address", "", "street address")
		fs.StringVar(&in.Status, "status", "", "project status")
		fs.StringVar(&in.StartDate, "start", "", "start date")
		fs.StringVar(&in.EstimatedEndDate, "end", "", "estimated end date")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.printJSON(a.portal.Projects.Create(ctx, in))
	case "delete":
		switch len(args) {
		case 0:
			return errUsage
		case 1:
			return a.portal.Projects.Delete(ctx, args[0])
		default:
			return a.printJSON(a.portal.Projects.BulkDelete(ctx, args))
		}
	default:
		return errUsage
	}
}

func (a *app) updates(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := newFlags("updates")
	project := fs.String("project", "", "project id")
	var in portal.UpdateInput
	fs.StringVar(&in.Title, "title", "", "update title")
	fs.StringVar(&in.Description, "description", "", "update description")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *project == "" {
		return errUsage
	}
	switch args[0] {
	case "list":
		return a.printJSON(read(ctx, func(ctx context.Context) ([]portal.Update, error) {
			return a.portal.Updates.List(ctx, *project, nil)
		}))
	case "create":
		return a.printJSON(a.portal.Updates.Create(ctx, *project, in))
	default:
		return errUsage
	}
}

func (a *app) gallery(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := newFlags("gallery")
	project := fs.String("project", "", "project id")
	file := fs.String("file", "", "image to upload")
	var meta portal.ImageMeta
	fs.StringVar(&meta.Caption, "caption", "", "image caption")
	fs.StringVar(&meta.Room, "room", "", "room, default "+portal.DefaultRoom)
	fs.StringVar(&meta.Stage, "stage", "", "stage, default "+portal.DefaultStage)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *project == "" {
		return errUsage
	}
	switch args[0] {
	case "list":
		return a.printJSON(read(ctx, func(ctx context.Context) ([]portal.GalleryImage, error) {
			return a.portal.Gallery.List(ctx, *project, nil)
		}))
	case "upload":
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		return a.printJSON(a.portal.Gallery.Upload(ctx, *project, filepath.Base(*file), f, meta))
	default:
		return errUsage
	}
}

func (a *app) chat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := newFlags("chat")
	project := fs.String("project", "", "project id")
	message := fs.StringP("message", "m", "", "message text")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *project == "" {
		return errUsage
	}
	switch args[0] {
	case "list":
		return a.printJSON(read(ctx, func(ctx context.Context) ([]portal.ChatMessage, error) {
			return a.portal.Chat.Messages(ctx, *project, nil)
		}))
	case "send":
		return a.printJSON(a.portal.Chat.Send(ctx, *project, portal.MessageInput{Message: *message, IsFromClient: true}))
	default:
		return errUsage
	}
}

// watch polls a project's resources until interrupted.
func (a *app) watch(ctx context.Context, args []string) error {
	fs := newFlags("watch")
	project := fs.String("project", "", "project id")
	events := fs.StringSlice("event", nil, "entity:action pairs to log from the WebSocket feed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return errUsage
	}
	if _, err := a.portal.Auth.Require(ctx); err != nil {
		return err
	}

	a.serveMetrics(ctx)

	logger := a.logger.With().Str("project", *project).Logger()
	subs := []*poll.Subscription{
		a.portal.Projects.Subscribe(ctx, *project, func(p *portal.Project) {
			logger.Info().Str("name", p.Name).Str("status", p.Status).Msg("project")
		}),
		a.portal.Updates.Subscribe(ctx, *project, func(u []portal.Update) {
			logger.Info().Int("count", len(u)).Msg("updates")
		}),
		a.portal.Gallery.Subscribe(ctx, *project, func(g []portal.GalleryImage) {
			logger.Info().Int("count", len(g)).Msg("gallery")
		}),
		a.portal.Chat.Subscribe(ctx, *project, func(m []portal.ChatMessage) {
			logger.Info().Int("count", len(m)).Msg("chat")
		}),
	}

	if len(*events) > 0 {
		bus := a.portal.Events()
		for _, ev := range *events {
			entity, action, ok := strings.Cut(ev, ":")
			if !ok {
				return fmt.Errorf("event %q: want entity:action", ev)
			}
			bus.Subscribe(entity, action, func(payload json.RawMessage) {
				logger.Info().Str("entity", entity).Str("action", action).RawJSON("payload", payload).Msg("event")
			})
		}
		if err := a.portal.ConnectEvents(ctx); err != nil {
			logger.Warn().Err(err).Msg("event feed unavailable, polling only")
		}
	}

	<-ctx.Done()
	for _, s := range subs {
		s.Cancel()
	}
	for _, s := range subs {
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

// read retries transient failures of a read-only call.
func read[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, retry.DefaultConfig().Transient(), fn)
}

func (a *app) printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

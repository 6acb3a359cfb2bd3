package hooks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/gitforge/internal/config"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/protocol"
)

// Environment carries the push context the server injects when it
// spawns git-receive-pack. Local pushes on the host leave it empty.
const (
	EnvPusher    = "GITFORGE_PUSHER"
	EnvRepoOwner = "GITFORGE_REPO_OWNER"
	EnvRepoName  = "GITFORGE_REPO_NAME"
)

// Runner executes one server-side hook. It runs inside the short-lived
// "gitforge hook <name>" process with the repo directory as cwd.
type Runner struct {
	git     *gitcmd.Runner
	cfg     config.HooksConfig
	policy  *PolicyClient
	content *ContentChecker
	logger  *slog.Logger
}

func NewRunner(git *gitcmd.Runner, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		git:     git,
		cfg:     cfg.Hooks,
		policy:  NewPolicyClient(cfg.Hooks.PolicyURL, cfg.PolicyTimeout()),
		content: NewContentChecker(git, cfg.Hooks.MinCommitMsgLength, cfg.Hooks.DeniedFilePatterns),
		logger:  logger,
	}
}

// Run dispatches to the named hook. A non-nil error means the hook
// process must exit non-zero, which makes git refuse the push.
func (r *Runner) Run(ctx context.Context, name string, args []string, stdin io.Reader, stderr io.Writer) error {
	repoDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve repo dir: %w", err)
	}
	switch name {
	case "pre-receive":
		return r.preReceive(ctx, repoDir, stdin, stderr)
	case "update":
		return r.update(ctx, repoDir, args, stderr)
	case "post-receive":
		return r.postReceive(ctx, repoDir, stdin)
	default:
		return fmt.Errorf("unknown hook %q", name)
	}
}

// preReceive gates the push as a whole: one policy call covering every
// ref update, then local content checks commit by commit. Any failure
// rejects every update in the push.
func (r *Runner) preReceive(ctx context.Context, repoDir string, stdin io.Reader, stderr io.Writer) error {
	updates, err := parseUpdateLines(stdin)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	owner, name, pusher := os.Getenv(EnvRepoOwner), os.Getenv(EnvRepoName), os.Getenv(EnvPusher)
	if err := r.policy.Check(ctx, owner, name, pusher, updates); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return err
	}
	for _, u := range updates {
		if err := r.content.CheckUpdate(ctx, repoDir, u); err != nil {
			fmt.Fprintln(stderr, err.Error())
			return err
		}
	}
	return nil
}

// update re-validates a single ref right before git moves it: a second,
// ref-granular policy call plus the content checks. The pre-receive
// gate already ran, but update fires per ref and catches anything that
// slipped between the two.
func (r *Runner) update(ctx context.Context, repoDir string, args []string, stderr io.Writer) error {
	if len(args) != 3 {
		return fmt.Errorf("update hook expects refname, old and new hash, got %d args", len(args))
	}
	u := protocol.RefUpdate{RefName: args[0], OldHash: args[1], NewHash: args[2]}

	owner, name, pusher := os.Getenv(EnvRepoOwner), os.Getenv(EnvRepoName), os.Getenv(EnvPusher)
	if err := r.policy.Check(ctx, owner, name, pusher, []protocol.RefUpdate{u}); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return err
	}
	if err := r.content.CheckUpdate(ctx, repoDir, u); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return err
	}
	return nil
}

// postReceive runs after the refs have moved. Nothing here may fail the
// push: event delivery errors are logged and swallowed.
func (r *Runner) postReceive(ctx context.Context, repoDir string, stdin io.Reader) error {
	updates, err := parseUpdateLines(stdin)
	if err != nil {
		r.logger.Warn("post-receive: bad stdin", "error", err)
		return nil
	}

	// Keep dumb-HTTP clients able to fetch after every push.
	if err := r.git.Run(ctx, gitcmd.Options{Dir: repoDir}, "update-server-info"); err != nil {
		r.logger.Warn("update-server-info failed", "repo", repoDir, "error", err)
	}

	if r.cfg.EventURL == "" || len(updates) == 0 {
		return nil
	}
	owner, name, pusher := os.Getenv(EnvRepoOwner), os.Getenv(EnvRepoName), os.Getenv(EnvPusher)
	emitter := newEventEmitter(r.cfg.EventURL)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, u := range updates {
		g.Go(func() error {
			if err := emitter.emit(gctx, pushEvent{
				Repository: owner + "/" + name,
				Ref:        u.RefName,
				RefType:    refType(u.RefName),
				OldRev:     u.OldHash,
				NewRev:     u.NewHash,
				User:       pusher,
			}); err != nil {
				r.logger.Warn("push event delivery failed", "ref", u.RefName, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

// parseUpdateLines reads the "<old> <new> <ref>" lines git feeds
// pre-receive and post-receive on stdin.
func parseUpdateLines(stdin io.Reader) ([]protocol.RefUpdate, error) {
	var updates []protocol.RefUpdate
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed update line %q", line)
		}
		updates = append(updates, protocol.RefUpdate{
			OldHash: fields[0],
			NewHash: fields[1],
			RefName: fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hook stdin: %w", err)
	}
	return updates, nil
}

// pushEvent mirrors the policy request shape so downstream consumers
// see one schema for both APIs.
type pushEvent struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	RefType    string `json:"refType"`
	OldRev     string `json:"oldrev"`
	NewRev     string `json:"newrev"`
	User       string `json:"user"`
}

type eventEmitter struct {
	url    string
	client *retryablehttp.Client
}

func newEventEmitter(url string) *eventEmitter {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	return &eventEmitter{url: url, client: retryClient}
}

func (e *eventEmitter) emit(ctx context.Context, ev pushEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// Delivery ID lets the sink deduplicate retried attempts.
	req.Header.Set("X-Gitforge-Delivery", uuid.NewString())
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("event sink returned %s", resp.Status)
	}
	return nil
}

// Package githubboard implements boardprovider.Provider for GitHub Issues and
// GitHub Projects using the gh CLI. Authentication rides on gh's own ordered
// chain (OAuth token, app installation, local CLI session, GH_TOKEN); this
// adapter never handles credentials itself.
package githubboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/port/boardprovider"
)

const providerName = "github"

// issueFields is the --json field list for issue listings.
const issueFields = "number,title,body,state,labels,assignees"

// Provider implements boardprovider.Provider via the gh CLI. List and Get
// return the raw gh output; payload coercion happens in the sync engine.
type Provider struct {
	binary  string
	repo    string
	mode    boardprovider.Mode
	boardID string
	ownerFn func() string
	timeout time.Duration
	sem     *semaphore.Weighted

	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a Provider. ownerFn supplies the current board owner and may
// change between calls when the engine rotates candidates; it is only used in
// kanban mode.
func New(cfg config.GitHub, mode boardprovider.Mode, boardID string, ownerFn func() string) (*Provider, error) {
	if err := validateRepo(cfg.Repo); err != nil {
		return nil, err
	}
	if mode == boardprovider.ModeKanban && boardID == "" {
		return nil, fmt.Errorf("kanban mode requires a board id")
	}
	if ownerFn == nil {
		ownerFn = func() string { return "" }
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "gh"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Provider{
		binary:      binary,
		repo:        cfg.Repo,
		mode:        mode,
		boardID:     boardID,
		ownerFn:     ownerFn,
		timeout:     timeout,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		execCommand: exec.CommandContext,
	}, nil
}

func (p *Provider) Name() string             { return providerName }
func (p *Provider) Mode() boardprovider.Mode { return p.mode }

func (p *Provider) Capabilities() boardprovider.Capabilities {
	return boardprovider.Capabilities{
		ListItems:    true,
		GetItem:      true,
		CreateItem:   p.mode == boardprovider.ModeIssues,
		UpdateItem:   p.mode == boardprovider.ModeIssues,
		UpdateStatus: true,
	}
}

// run executes one gh invocation under the concurrency limit.
func (p *Provider) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire gh slot: %w", err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := p.execCommand(ctx, p.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %s: %w",
			p.binary, strings.Join(args[:min(2, len(args))], " "),
			strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// ListItems returns the raw listing payload for the configured board surface.
func (p *Provider) ListItems(ctx context.Context) (json.RawMessage, error) {
	if p.mode == boardprovider.ModeKanban {
		args := []string{"project", "item-list", p.boardID, "--format", "json", "--limit", "200"}
		if owner := p.ownerFn(); owner != "" {
			args = append(args, "--owner", owner)
		}
		return p.run(ctx, args...)
	}
	return p.run(ctx, "issue", "list",
		"--repo", p.repo,
		"--json", issueFields,
		"--limit", "200",
	)
}

// GetItem returns the raw payload for one item. In issues mode the external
// ID is the issue number; in kanban mode it is the project item node ID.
func (p *Provider) GetItem(ctx context.Context, externalID string) (json.RawMessage, error) {
	if p.mode == boardprovider.ModeKanban {
		return p.run(ctx, "api", "graphql",
			"-f", fmt.Sprintf("query=query { node(id: %q) { ... on ProjectV2Item { id fieldValueByName(name: \"Status\") { ... on ProjectV2ItemFieldSingleSelectValue { name } } content { ... on Issue { number title body } } } } }", externalID),
		)
	}
	return p.run(ctx, "issue", "view", externalID,
		"--repo", p.repo,
		"--json", issueFields,
	)
}

// issueURLRe extracts the issue number from the URL gh prints on create.
var issueURLRe = regexp.MustCompile(`/issues/(\d+)\s*$`)

// CreateItem creates an issue and returns its number as the external ID.
func (p *Provider) CreateItem(ctx context.Context, item *boardprovider.Item) (string, error) {
	if p.mode != boardprovider.ModeIssues {
		return "", boardprovider.ErrNotSupported
	}
	args := []string{"issue", "create",
		"--repo", p.repo,
		"--title", item.Title,
		"--body", item.Body,
	}
	for _, label := range item.Labels {
		args = append(args, "--label", label)
	}
	out, err := p.run(ctx, args...)
	if err != nil {
		return "", err
	}
	m := issueURLRe.FindSubmatch(bytes.TrimSpace(out))
	if m == nil {
		return "", fmt.Errorf("unexpected gh issue create output: %q", strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}

// UpdateItem edits an issue's title and body.
func (p *Provider) UpdateItem(ctx context.Context, item *boardprovider.Item) error {
	if p.mode != boardprovider.ModeIssues {
		return boardprovider.ErrNotSupported
	}
	_, err := p.run(ctx, "issue", "edit", item.ExternalID,
		"--repo", p.repo,
		"--title", item.Title,
		"--body", item.Body,
	)
	return err
}

// UpdateStatus moves an item. Issues only distinguish open/closed; terminal
// columns close the issue and everything else reopens it. Kanban mode edits
// the project's Status field.
func (p *Provider) UpdateStatus(ctx context.Context, externalID, status string) error {
	if p.mode == boardprovider.ModeKanban {
		_, err := p.run(ctx, "project", "item-edit",
			"--id", externalID,
			"--project-id", p.boardID,
			"--field-name", "Status",
			"--single-select-option-name", status,
		)
		return err
	}
	verb := "reopen"
	if closedStatus(status) {
		verb = "close"
	}
	_, err := p.run(ctx, "issue", verb, externalID, "--repo", p.repo)
	return err
}

// closedStatus reports whether a board column maps to the closed issue state.
func closedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "done", "cancelled", "closed":
		return true
	}
	return false
}

func validateRepo(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return nil
}

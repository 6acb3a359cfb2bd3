package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/odvcencio/gitforge/internal/protocol"
)

// PolicyRejectedError reports a push turned away by the external policy
// service. The message is relayed to the client over the error sideband.
type PolicyRejectedError struct {
	Message string
}

func (e *PolicyRejectedError) Error() string {
	if e.Message == "" {
		return "push rejected by policy"
	}
	return "push rejected by policy: " + e.Message
}

// policyRequest is the payload posted to the policy endpoint, one call
// per ref update.
type policyRequest struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	RefType    string `json:"refType"`
	OldRev     string `json:"oldrev"`
	NewRev     string `json:"newrev"`
	User       string `json:"user"`
}

type policyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PolicyClient asks an external HTTP service whether a push may proceed.
type PolicyClient struct {
	url    string
	client *retryablehttp.Client
}

func NewPolicyClient(url string, timeout time.Duration) *PolicyClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	return &PolicyClient{url: url, client: retryClient}
}

// Check consults the policy service for every ref update in turn and
// stops at the first rejection. The decision is keyed on the literal
// word "allowed" appearing in the response body; anything else,
// including transport failure, rejects the push.
func (p *PolicyClient) Check(ctx context.Context, owner, repo, pusher string, updates []protocol.RefUpdate) error {
	if p == nil || p.url == "" {
		return nil
	}
	repository := owner + "/" + repo
	for _, u := range updates {
		if err := p.checkOne(ctx, repository, pusher, u); err != nil {
			return err
		}
	}
	return nil
}

func (p *PolicyClient) checkOne(ctx context.Context, repository, pusher string, u protocol.RefUpdate) error {
	body, err := json.Marshal(policyRequest{
		Repository: repository,
		Ref:        u.RefName,
		RefType:    refType(u.RefName),
		OldRev:     u.OldHash,
		NewRev:     u.NewHash,
		User:       pusher,
	})
	if err != nil {
		return fmt.Errorf("encode policy request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &PolicyRejectedError{Message: "policy service unreachable"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &PolicyRejectedError{Message: "policy service returned an unreadable response"}
	}
	if !bytes.Contains(raw, []byte("allowed")) {
		var decoded policyResponse
		msg := ""
		if json.Unmarshal(raw, &decoded) == nil {
			msg = decoded.Message
		}
		return &PolicyRejectedError{Message: msg}
	}
	return nil
}

func refType(refName string) string {
	switch {
	case strings.HasPrefix(refName, "refs/tags/"):
		return "tag"
	case strings.HasPrefix(refName, "refs/heads/"):
		return "branch"
	default:
		return "other"
	}
}

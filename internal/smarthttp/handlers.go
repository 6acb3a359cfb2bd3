package smarthttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/hooks"
	"github.com/odvcencio/gitforge/internal/models"
	"github.com/odvcencio/gitforge/internal/protocol"
)

const (
	serviceUploadPack  = "git-upload-pack"
	serviceReceivePack = "git-receive-pack"
)

// maxReceiveBody caps a single push at 1 GiB.
const maxReceiveBody int64 = 1 << 30

// handleInfoRefs implements GET /git/{owner}/{repo}/info/refs?service=.
// It answers with the pkt-line service announcement followed by git's
// own ref advertisement, exactly as stateless-RPC clients expect.
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("repo")

	service := r.URL.Query().Get("service")
	if service != serviceUploadPack && service != serviceReceivePack {
		jsonError(w, "unsupported service", http.StatusBadRequest)
		return
	}

	_, _, status, err := s.authorizeRepoAccess(r, owner, name, service == serviceReceivePack)
	if err != nil {
		if status == http.StatusUnauthorized {
			challengeAuth(w, err.Error())
			return
		}
		jsonError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Service announcement precedes the advertisement proper.
	announcement, err := protocol.EncodeString(fmt.Sprintf("# service=%s\n", service))
	if err != nil {
		return
	}
	w.Write(announcement)
	w.Write(protocol.FlushPacket())

	repoPath := s.store.Locate(owner, name)
	var out bytes.Buffer
	err = s.git.Run(r.Context(), gitcmd.Options{Stdout: &out},
		gitSubcommand(service), "--stateless-rpc", "--advertise-refs", repoPath)
	if err != nil {
		// Headers are gone; all we can do is drop the connection short.
		s.logger.Error("ref advertisement failed", "repo", owner+"/"+name, "error", err)
		return
	}
	w.Write(out.Bytes())
}

func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	s.serviceRPC(w, r, serviceUploadPack)
}

func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	s.serviceRPC(w, r, serviceReceivePack)
}

// serviceRPC runs one stateless-RPC exchange: client request body in,
// git subprocess output streamed back out. The subprocess inherits the
// request context, so a client disconnect kills it rather than leaving
// it running.
func (s *Server) serviceRPC(w http.ResponseWriter, r *http.Request, service string) {
	owner, name := r.PathValue("owner"), r.PathValue("repo")
	write := service == serviceReceivePack

	_, user, status, err := s.authorizeRepoAccess(r, owner, name, write)
	if err != nil {
		if status == http.StatusUnauthorized {
			challengeAuth(w, err.Error())
			return
		}
		jsonError(w, err.Error(), status)
		return
	}

	body, err := requestBody(w, r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer body.Close()

	opts := gitcmd.Options{Stderr: io.Discard}
	if write {
		opts.Env = receivePackEnv(owner, name, user)
	}
	repoPath := s.store.Locate(owner, name)

	cmd, stdin, stdout, err := s.git.Start(r.Context(), opts,
		gitSubcommand(service), "--stateless-rpc", repoPath)
	if err != nil {
		jsonError(w, "git subprocess failed to start", http.StatusBadGateway)
		return
	}

	// Feed the request body while draining stdout; receive-pack starts
	// talking (sideband progress, errors) before it has read the whole
	// packfile, and a sequential copy can deadlock on large pushes.
	stdinErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, body)
		stdin.Close()
		stdinErr <- err
	}()

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-result", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
	stdout.Close()

	if err := <-stdinErr; err != nil {
		s.logger.Warn("request body copy aborted", "service", service, "error", err)
	}
	if err := cmd.Wait(); err != nil {
		// Headers already went out; the pkt-line stream carries any
		// error the client needs. Log for the operator.
		s.logger.Warn("git service exited non-zero",
			"service", service, "repo", owner+"/"+name, "error", err)
	}
}

// requestBody unwraps gzip-compressed request bodies; git clients
// compress pushes and negotiation rounds by default.
func requestBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	body := http.MaxBytesReader(w, r.Body, maxReceiveBody)
	if r.Header.Get("Content-Encoding") != "gzip" {
		return body, nil
	}
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("malformed gzip request body")
	}
	return gz, nil
}

// receivePackEnv tells the hook chain who is pushing and to which
// repository; the hook process cannot recover either on its own.
func receivePackEnv(owner, name string, user *models.User) []string {
	env := []string{
		hooks.EnvRepoOwner + "=" + owner,
		hooks.EnvRepoName + "=" + name,
	}
	if user != nil {
		env = append(env, hooks.EnvPusher+"="+user.Username)
	}
	return env
}

func gitSubcommand(service string) string {
	// "git-upload-pack" the wire service is "upload-pack" the subcommand.
	return service[len("git-"):]
}

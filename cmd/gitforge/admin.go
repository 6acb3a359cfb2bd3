package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odvcencio/gitforge/internal/config"
	"github.com/odvcencio/gitforge/internal/database"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/histops"
	"github.com/odvcencio/gitforge/internal/models"
	"github.com/odvcencio/gitforge/internal/storage"
)

const adminUsage = `Usage: gitforge admin <operation> [flags]

Repository lifecycle:
  create fork dissolve rename delete gc health summary du

Backup and archive:
  backup restore archive unarchive

History:
  log blame diff reflog bisect cherry-pick rebase patch apply-patch
`

// adminEnv bundles what every admin operation needs. The database is
// opened lazily because most history operations never touch it.
type adminEnv struct {
	cfg   *config.Config
	store *storage.Manager
	git   *gitcmd.Runner
	db    database.DB
}

func (a *adminEnv) openDB() (database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *adminEnv) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func cmdAdmin(args []string) {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, adminUsage)
		os.Exit(1)
	}
	op := args[0]

	fs := flag.NewFlagSet("admin "+op, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")

	// Shared repository selector.
	owner := fs.String("owner", "", "repository owner")
	repo := fs.String("repo", "", "repository name")

	desc := fs.String("description", "", "repository description (create)")
	private := fs.Bool("private", false, "mark the repository private (create)")
	dstOwner := fs.String("dst-owner", "", "destination owner (fork)")
	dstRepo := fs.String("dst-repo", "", "destination name (fork)")
	newName := fs.String("new-name", "", "new repository name (rename)")
	aggressive := fs.Bool("aggressive", false, "aggressive repack (gc)")
	dir := fs.String("dir", ".", "bundle directory (backup)")
	file := fs.String("file", "", "bundle or patch file (restore, apply-patch)")

	ref := fs.String("ref", "", "ref or revision")
	base := fs.String("base", "", "base revision (diff, rebase)")
	target := fs.String("target", "", "target revision or branch")
	path := fs.String("path", "", "restrict to path (log, blame)")
	limit := fs.Int("limit", 50, "max entries (log)")
	skip := fs.Int("skip", 0, "entries to skip (log)")
	startLine := fs.Int("start-line", 0, "first line (blame)")
	endLine := fs.Int("end-line", 0, "last line (blame)")
	contextLines := fs.Int("context-lines", 3, "context lines (diff)")
	ignoreWS := fs.Bool("ignore-whitespace", false, "ignore whitespace (diff)")
	commit := fs.String("commit", "", "commit hash (cherry-pick)")
	noCommit := fs.Bool("no-commit", false, "stage without committing (cherry-pick)")
	signoff := fs.Bool("signoff", false, "add Signed-off-by (cherry-pick, rebase)")
	author := fs.String("author", "", "author identity for new commits")
	onto := fs.String("onto", "", "rebase --onto base (rebase)")
	interactive := fs.Bool("interactive", false, "interactive rebase, todo list accepted as-is (rebase)")
	revRange := fs.String("range", "", "revision range (patch)")
	bad := fs.String("bad", "", "known-bad commit (bisect)")
	good := fs.String("good", "", "known-good commit (bisect)")

	fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	store, err := buildStorageManager(cfg)
	if err != nil {
		fatalf("init storage: %v", err)
	}
	env := &adminEnv{cfg: cfg, store: store, git: gitcmd.NewRunner()}
	defer env.close()

	if *owner == "" || *repo == "" {
		fatalf("admin %s: -owner and -repo are required", op)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	eng := histops.NewEngine(store, env.git, nil)

	switch op {
	case "create":
		adminCreate(ctx, env, *owner, *repo, *desc, *private)
	case "fork":
		if *dstOwner == "" || *dstRepo == "" {
			fatalf("admin fork: -dst-owner and -dst-repo are required")
		}
		adminFork(ctx, env, *owner, *repo, *dstOwner, *dstRepo)
	case "dissolve":
		adminDissolve(ctx, env, *owner, *repo)
	case "rename":
		if *newName == "" {
			fatalf("admin rename: -new-name is required")
		}
		adminRename(ctx, env, *owner, *repo, *newName)
	case "delete":
		adminDelete(ctx, env, *owner, *repo)
	case "gc":
		check(store.GarbageCollect(ctx, *owner, *repo, *aggressive))
		fmt.Println("gc complete")
	case "health":
		health, err := store.CheckHealth(ctx, *owner, *repo)
		check(err)
		printJSON(health)
	case "summary":
		sum, err := store.Summary(ctx, *owner, *repo)
		check(err)
		printJSON(sum)
	case "du":
		n, err := store.DiskUsage(*owner, *repo)
		check(err)
		fmt.Println(n)
	case "backup":
		bundle, err := store.CreateBackup(ctx, *owner, *repo, *dir)
		check(err)
		fmt.Println(bundle)
	case "restore":
		if *file == "" {
			fatalf("admin restore: -file is required")
		}
		restored, err := store.RestoreFromBackup(ctx, *owner, *repo, *file)
		check(err)
		fmt.Println(restored)
	case "archive":
		as, err := buildArchiveStore(cfg)
		check(err)
		check(store.ArchiveBackup(ctx, *owner, *repo, as))
		fmt.Println(storage.ArchiveKey(*owner, *repo))
	case "unarchive":
		as, err := buildArchiveStore(cfg)
		check(err)
		restored, err := store.RestoreFromArchive(ctx, *owner, *repo, as)
		check(err)
		fmt.Println(restored)
	case "log":
		commits, err := eng.CommitHistory(ctx, *owner, *repo, histops.HistoryOptions{
			Ref: *ref, Path: *path, Limit: *limit, Skip: *skip,
		})
		check(err)
		printJSON(commits)
	case "blame":
		if *path == "" {
			fatalf("admin blame: -path is required")
		}
		lines, err := eng.GetBlame(ctx, *owner, *repo, *path, histops.BlameOptions{
			Branch: *ref, StartLine: *startLine, EndLine: *endLine,
		})
		check(err)
		printJSON(lines)
	case "diff":
		if *base == "" || *target == "" {
			fatalf("admin diff: -base and -target are required")
		}
		d, err := eng.GetDiff(ctx, *owner, *repo, *base, *target, histops.DiffOptions{
			Path: *path, Context: *contextLines, IgnoreWhitespace: *ignoreWS,
		})
		check(err)
		printJSON(d)
	case "reflog":
		entries, err := eng.Reflog(ctx, *owner, *repo, *ref)
		check(err)
		printJSON(entries)
	case "bisect":
		if *bad == "" || *good == "" {
			fatalf("admin bisect: -bad and -good are required")
		}
		res, err := eng.StartBisect(ctx, *owner, *repo, *bad, *good)
		check(err)
		printJSON(res)
	case "cherry-pick":
		if *commit == "" {
			fatalf("admin cherry-pick: -commit is required")
		}
		res, err := eng.CherryPick(ctx, *owner, *repo, *commit, histops.CherryPickOptions{
			NoCommit: *noCommit, Signoff: *signoff, Author: *author,
		})
		check(err)
		printJSON(res)
	case "rebase":
		if *base == "" || *target == "" {
			fatalf("admin rebase: -base and -target are required")
		}
		check(eng.Rebase(ctx, *owner, *repo, *base, *target, histops.RebaseOptions{
			Onto: *onto, Interactive: *interactive, Signoff: *signoff, Author: *author,
		}))
		fmt.Println("rebase complete")
	case "patch":
		if *revRange == "" {
			fatalf("admin patch: -range is required")
		}
		out, err := eng.CreatePatch(ctx, *owner, *repo, *revRange)
		check(err)
		fmt.Print(out)
	case "apply-patch":
		if *target == "" {
			fatalf("admin apply-patch: -target is required")
		}
		patch, err := readPatch(*file)
		check(err)
		check(eng.ApplyPatch(ctx, *owner, *repo, *target, patch, *author))
		fmt.Println("patch applied")
	default:
		fmt.Fprint(os.Stderr, adminUsage)
		os.Exit(1)
	}
}

// adminCreate makes the bare repository on disk and the matching
// metadata row. Disk is rolled back if the row cannot be written, so the
// two stay consistent.
func adminCreate(ctx context.Context, env *adminEnv, owner, name, desc string, private bool) {
	path, err := env.store.Create(ctx, owner, name, desc)
	check(err)

	db, err := env.openDB()
	check(err)
	rec := &models.Repository{
		Owner:         owner,
		Name:          name,
		Description:   desc,
		DefaultBranch: "main",
		IsPrivate:     private,
	}
	if err := db.CreateRepository(ctx, rec); err != nil {
		env.store.Delete(owner, name)
		check(err)
	}
	fmt.Println(path)
}

func adminFork(ctx context.Context, env *adminEnv, srcOwner, srcName, dstOwner, dstName string) {
	path, err := env.store.Fork(ctx, srcOwner, srcName, dstOwner, dstName)
	check(err)

	db, err := env.openDB()
	check(err)
	src, err := db.GetRepository(ctx, srcOwner, srcName)
	check(err)
	rec := &models.Repository{
		Owner:         dstOwner,
		Name:          dstName,
		Description:   src.Description,
		DefaultBranch: src.DefaultBranch,
		IsPrivate:     src.IsPrivate,
		ForkOf:        src.FullName(),
	}
	if err := db.CreateRepository(ctx, rec); err != nil {
		env.store.Delete(dstOwner, dstName)
		check(err)
	}
	fmt.Println(path)
}

// adminDissolve copies borrowed objects into the fork and severs the
// alternates link, so the source can be deleted afterwards.
func adminDissolve(ctx context.Context, env *adminEnv, owner, name string) {
	check(env.store.Dissolve(ctx, owner, name))

	db, err := env.openDB()
	check(err)
	rec, err := db.GetRepository(ctx, owner, name)
	if err == nil && rec.ForkOf != "" {
		check(db.SetRepositoryForkOf(ctx, rec.ID, ""))
	}
	fmt.Println("dissolved")
}

// adminRename moves the tree and then repairs what the move broke:
// the metadata row, any forks' alternates entries (the sharded path is
// a function of the name), and their fork_of pointers.
func adminRename(ctx context.Context, env *adminEnv, owner, name, newName string) {
	path, err := env.store.Rename(owner, name, newName)
	check(err)

	db, err := env.openDB()
	check(err)
	rec, err := db.GetRepository(ctx, owner, name)
	if err == nil {
		check(db.RenameRepository(ctx, rec.ID, newName))
	}

	forks, err := db.ListForks(ctx, owner+"/"+name)
	check(err)
	for _, f := range forks {
		check(env.store.Relink(f.Owner, f.Name, owner, newName))
		check(db.SetRepositoryForkOf(ctx, f.ID, owner+"/"+newName))
	}
	fmt.Println(path)
}

// adminDelete dissolves dependent forks before removing the source, so
// no fork is left borrowing objects from a deleted tree.
func adminDelete(ctx context.Context, env *adminEnv, owner, name string) {
	db, err := env.openDB()
	check(err)

	forks, err := db.ListForks(ctx, owner+"/"+name)
	check(err)
	for _, f := range forks {
		check(env.store.Dissolve(ctx, f.Owner, f.Name))
		check(db.SetRepositoryForkOf(ctx, f.ID, ""))
	}

	check(env.store.Delete(owner, name))
	rec, err := db.GetRepository(ctx, owner, name)
	if err == nil {
		check(db.DeleteRepository(ctx, rec.ID))
	}
	fmt.Println("deleted")
}

func readPatch(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encode output: %v", err)
	}
}

func check(err error) {
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "gitforge admin: "+format+"\n", args...)
	os.Exit(1)
}
